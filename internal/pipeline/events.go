package pipeline

import (
	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/repair"
)

// Repair message kinds produced by the pipeline
const (
	KindEntityDelete repair.Kind = "entity.delete"
	KindEntityIndex  repair.Kind = "entity.index"
)

// EntityEvent is the payload of the pipeline's repair messages. Entity is the
// version as the caller supplied it, payload included.
type EntityEvent struct {
	Scope   model.CollectionScope `json:"scope"`
	Version model.Version         `json:"version"`
	Entity  *model.Entity         `json:"entity"`
}
