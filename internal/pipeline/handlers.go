package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/entitystore/internal/model"
	"github.com/devrev/pairdb/entitystore/internal/repair"
)

// Handlers returns the repair handlers for the messages the pipeline schedules
func (p *Pipeline) Handlers() map[repair.Kind]repair.Handler {
	return map[repair.Kind]repair.Handler{
		KindEntityDelete: &EntityDeleteHandler{p: p},
		KindEntityIndex:  &EntityIndexHandler{p: p},
	}
}

// EntityDeleteHandler finishes a delete: it removes the marked row, sweeps claims
// the delete could not release and deindexes the version. Running it again after
// success changes nothing.
type EntityDeleteHandler struct {
	p *Pipeline
}

func (h *EntityDeleteHandler) Handle(ctx context.Context, msg *repair.Message) error {
	p := h.p
	var ev EntityEvent
	if err := decodeEvent(msg, &ev); err != nil {
		return err
	}
	id, version := ev.Entity.ID, ev.Version

	entry, err := p.logs.Load(ctx, ev.Scope, id, version)
	if err != nil {
		return err
	}
	if entry == nil || entry.Status != model.StatusDeleted {
		p.logger.Warn("Skipping delete repair for version not marked deleted",
			zap.String("scope", ev.Scope.String()),
			zap.Stringer("entity_id", id),
			zap.Stringer("version", version))
		return nil
	}

	batch := p.entities.Delete(ev.Scope, id, version)
	if ev.Entity.HasPayload() {
		for _, field := range ev.Entity.Payload.Fields {
			if _, err := field.CanonicalValue(); err != nil {
				continue
			}
			if _, err := p.releaseClaim(ctx, ev.Scope, id, version, field, batch); err != nil {
				return err
			}
		}
	}
	batch.OnCommit(func() { p.invalidate(ev.Scope, id, version) })

	if err := p.execute(ctx, batch); err != nil {
		return err
	}

	if p.notifier != nil {
		if err := p.notifier.Deindex(ctx, ev.Scope, id, version); err != nil {
			return err
		}
	}

	p.logger.Debug("Deleted entity version removed",
		zap.String("scope", ev.Scope.String()),
		zap.Stringer("entity_id", id),
		zap.Stringer("version", version))
	return nil
}

// EntityIndexHandler settles a committed write: it indexes the version and
// removes entity rows of versions beyond the retention limit. Log entries of
// pruned versions are kept.
type EntityIndexHandler struct {
	p *Pipeline
}

func (h *EntityIndexHandler) Handle(ctx context.Context, msg *repair.Message) error {
	p := h.p
	var ev EntityEvent
	if err := decodeEvent(msg, &ev); err != nil {
		return err
	}
	id, version := ev.Entity.ID, ev.Version

	entry, err := p.logs.Load(ctx, ev.Scope, id, version)
	if err != nil {
		return err
	}
	if entry == nil || !entry.Visible() {
		// rolled back, or deleted meanwhile: the delete handler owns the cleanup
		return nil
	}

	superseded, err := h.superseded(ctx, ev.Scope, id, version)
	if err != nil || superseded {
		return err
	}

	if p.notifier != nil {
		if err := p.notifier.Index(ctx, ev.Scope, ev.Entity); err != nil {
			return err
		}
		// a newer version may have been indexed while this one was written
		if superseded, err = h.superseded(ctx, ev.Scope, id, version); err != nil || superseded {
			return err
		}
	}
	return h.prune(ctx, ev.Scope, id, version)
}

// superseded reports whether a newer version of id committed, and if so drops
// any document of version. The newer version's own message owns indexing and
// pruning from then on.
func (h *EntityIndexHandler) superseded(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) (bool, error) {
	p := h.p
	latest, err := p.latestCommitted(ctx, scope, id)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Version.Compare(version) <= 0 {
		return false, nil
	}

	p.logger.Debug("Skipping index repair for superseded version",
		zap.String("scope", scope.String()),
		zap.Stringer("entity_id", id),
		zap.Stringer("version", version),
		zap.Stringer("latest", latest.Version))
	if p.notifier != nil {
		if err := p.notifier.Deindex(ctx, scope, id, version); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (h *EntityIndexHandler) prune(ctx context.Context, scope model.CollectionScope, id model.ID, version model.Version) error {
	p := h.p
	if p.cfg.RetainVersions <= 0 {
		return nil
	}

	history, err := p.logs.History(ctx, scope, id, 0)
	if err != nil {
		return err
	}

	var older []model.Version
	for _, e := range history {
		if e.Version.Compare(version) < 0 {
			older = append(older, e.Version)
		}
	}
	keep := p.cfg.RetainVersions - 1
	if len(older) <= keep {
		return nil
	}

	pruned := older[keep:]
	batch := p.entities.Delete(scope, id, pruned[0])
	for _, v := range pruned[1:] {
		batch.MergeShallow(p.entities.Delete(scope, id, v))
	}
	batch.OnCommit(func() {
		for _, v := range pruned {
			p.invalidate(scope, id, v)
		}
	})
	if err := p.execute(ctx, batch); err != nil {
		return err
	}

	p.metrics.RecordVersionsPruned(len(pruned))
	p.logger.Debug("Pruned superseded entity versions",
		zap.String("scope", scope.String()),
		zap.Stringer("entity_id", id),
		zap.Int("pruned", len(pruned)))
	return nil
}

func decodeEvent(msg *repair.Message, ev *EntityEvent) error {
	if err := msg.Decode(ev); err != nil {
		return err
	}
	if ev.Entity == nil {
		return fmt.Errorf("%s message %s carries no entity", msg.Kind, msg.ID)
	}
	return nil
}
