package model

import (
	"encoding/json"
	"fmt"
)

// Field is one named value of an entity payload
type Field struct {
	Name   string `json:"name"`
	Value  any    `json:"value"`
	Unique bool   `json:"unique,omitempty"` // value must be unique within the scope
}

// CanonicalValue returns the encoding used to key unique claims. Only scalar
// values can be claimed.
func (f Field) CanonicalValue() ([]byte, error) {
	switch f.Value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
	default:
		return nil, fmt.Errorf("field %q: value of type %T cannot be claimed", f.Name, f.Value)
	}
	return json.Marshal(f.Value)
}

// Payload is the materialized field set of an entity version
type Payload struct {
	Fields []Field `json:"fields"`
}

// NewPayload builds a payload from fields in order
func NewPayload(fields ...Field) *Payload {
	return &Payload{Fields: fields}
}

// Field looks up a field by name
func (p *Payload) Field(name string) (Field, bool) {
	if p == nil {
		return Field{}, false
	}
	for _, f := range p.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// UniqueFields returns the uniqueness-constrained fields
func (p *Payload) UniqueFields() []Field {
	if p == nil {
		return nil
	}
	var out []Field
	for _, f := range p.Fields {
		if f.Unique {
			out = append(out, f)
		}
	}
	return out
}

// Entity is one version of an entity. Payload is nil once the version has been
// marked deleted.
type Entity struct {
	ID      ID       `json:"id"`
	Version Version  `json:"version"`
	Stage   Stage    `json:"stage"`
	Payload *Payload `json:"payload,omitempty"`
}

// HasPayload reports whether the payload is materialized
func (e *Entity) HasPayload() bool {
	return e != nil && e.Payload != nil
}

// Owner binds a unique claim to one entity version
type Owner struct {
	ID      ID      `json:"id"`
	Version Version `json:"version"`
}

func (o Owner) String() string {
	return o.ID.String() + "@" + o.Version.String()
}

// UniqueValue is a claim of a field value by an entity version
type UniqueValue struct {
	Scope CollectionScope `json:"scope"`
	Field Field           `json:"field"`
	Owner Owner           `json:"owner"`
}
