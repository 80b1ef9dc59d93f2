// Package facade is the entity API the application uses. Reads prefer the
// backend and fall back to the cache; writes go to the backend when it is
// reachable and to the outbox when it is not.
package facade

import (
	"context"
	"encoding/json"

	"github.com/RMMwalali/kraftbasic-sub001/internal/cache"
	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/events"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/connectivity"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/idmap"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/queue"
	"github.com/RMMwalali/kraftbasic-sub001/internal/telemetry"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// Drainer is notified after a write is queued while online.
type Drainer interface {
	RequestDrain()
}

// Deps are shared by every Facade. Drainer, Bus and Metrics are optional.
type Deps struct {
	Cache   *cache.Cache
	Outbox  *queue.Outbox
	Table   *remote.Table
	Monitor *connectivity.Monitor
	IDs     *idmap.Map
	Drainer Drainer
	Bus     *events.Bus
	Metrics *telemetry.Registry
}

// Result is a single-entity outcome. Pending means the outbox still holds
// unacknowledged work for the entity. FromCache means the backend was not
// consulted or could not answer.
type Result struct {
	Entity    models.Entity `json:"entity"`
	Pending   bool          `json:"pending"`
	FromCache bool          `json:"from_cache"`
}

// ListResult is a list outcome.
type ListResult struct {
	Entities  []models.Entity `json:"entities"`
	FromCache bool            `json:"from_cache"`
}

// Facade serves one entity type.
type Facade struct {
	entityType models.EntityType
	ns         string
	cfg        config.SyncConfig
	client     remote.EntityClient
	deps       Deps
	log        *logging.Logger
}

// New creates the facade for entityType.
func New(entityType models.EntityType, cfg config.SyncConfig, deps Deps) (*Facade, error) {
	if deps.Cache == nil || deps.Outbox == nil || deps.Table == nil || deps.Monitor == nil || deps.IDs == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "facade requires cache, outbox, table, monitor and id map")
	}
	client, err := deps.Table.For(entityType)
	if err != nil {
		return nil, err
	}
	return &Facade{
		entityType: entityType,
		ns:         entityType.Namespace(),
		cfg:        cfg,
		client:     client,
		deps:       deps,
		log:        logging.Get().With("facade." + string(entityType)),
	}, nil
}

// EntityType returns the type this facade serves.
func (f *Facade) EntityType() models.EntityType {
	return f.entityType
}

func (f *Facade) online() bool {
	return f.deps.Monitor.IsOnline()
}

func (f *Facade) pending(id string) bool {
	return f.deps.Outbox.HasPending(f.entityType, id)
}

// Get reads one entity.
func (f *Facade) Get(ctx context.Context, id string) (Result, error) {
	id = f.deps.IDs.Resolve(id)

	var remoteErr error
	if f.online() && !uuid.IsTemp(id) {
		e, err := f.client.Get(ctx, id)
		if err == nil {
			f.deps.Cache.Put(ctx, f.ns, id, e)
			return Result{Entity: e, Pending: f.pending(id)}, nil
		}
		if !apperrors.IsRetryable(err) || apperrors.Is(err, apperrors.ErrNotFound) {
			return Result{}, err
		}
		remoteErr = err
		f.fellBack(err)
	}

	e, ok := f.deps.Cache.GetEntity(ctx, f.ns, id)
	if !ok {
		return Result{}, f.notCached(id, remoteErr)
	}
	return Result{Entity: e, Pending: f.pending(id), FromCache: true}, nil
}

// GetCached reads one entity from the cache only, never touching the
// backend.
func (f *Facade) GetCached(ctx context.Context, id string) (Result, error) {
	id = f.deps.IDs.Resolve(id)
	e, ok := f.deps.Cache.GetEntity(ctx, f.ns, id)
	if !ok {
		return Result{}, apperrors.Newf(apperrors.ErrNotFound, "%s %s not cached", f.entityType, id)
	}
	return Result{Entity: e, Pending: f.pending(id), FromCache: true}, nil
}

// List reads entities matching filter. Offline results are assembled from
// the individually cached entities, so they include optimistic writes.
func (f *Facade) List(ctx context.Context, filter models.Filter) (ListResult, error) {
	if f.online() {
		list, err := f.client.List(ctx, filter)
		if err == nil {
			for _, e := range list {
				if id := e.ID(); id != "" {
					f.deps.Cache.Put(ctx, f.ns, id, e)
				}
			}
			return ListResult{Entities: list}, nil
		}
		if !apperrors.IsRetryable(err) {
			return ListResult{}, err
		}
		f.fellBack(err)
	}

	keys, err := f.deps.Cache.Keys(ctx, f.ns)
	if err != nil {
		return ListResult{}, apperrors.Wrap(apperrors.ErrStorage, "list cache", err)
	}
	out := []models.Entity{}
	skipped := 0
	for _, key := range keys {
		e, ok := f.deps.Cache.GetEntity(ctx, f.ns, key)
		if !ok || !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return ListResult{Entities: out, FromCache: true}, nil
}

// Create stores a new entity. Offline creates get a temporary id that is
// replaced once the backend acknowledges them.
func (f *Facade) Create(ctx context.Context, payload models.Entity) (Result, error) {
	payload = f.resolveRefs(payload)

	if f.online() {
		e, err := f.client.Create(ctx, payload)
		if err == nil {
			if id := e.ID(); id != "" {
				f.deps.Cache.Put(ctx, f.ns, id, e)
			}
			return Result{Entity: e}, nil
		}
		if err := f.onlineFailure(err); err != nil {
			return Result{}, err
		}
	} else if !f.cfg.OfflineModeEnabled {
		return Result{}, f.offlineError("create")
	}

	e := payload.Clone()
	if e == nil {
		e = models.Entity{}
	}
	id := e.ID()
	if id == "" {
		id = uuid.NewTemp()
		e[models.IDField] = id
	}
	f.deps.Cache.Put(ctx, f.ns, id, e)
	if err := f.enqueue(ctx, models.OperationCreate, id, e); err != nil {
		f.deps.Cache.Delete(ctx, f.ns, id)
		return Result{}, err
	}
	return Result{Entity: e, Pending: true}, nil
}

// Update applies a partial update.
func (f *Facade) Update(ctx context.Context, id string, patch models.Entity) (Result, error) {
	id = f.deps.IDs.Resolve(id)
	patch = f.resolveRefs(patch)

	// Work already queued for this entity must reach the backend first.
	direct := f.online() && !uuid.IsTemp(id) && !f.pending(id)
	if direct {
		e, err := f.client.Update(ctx, id, patch)
		if err == nil {
			f.deps.Cache.Put(ctx, f.ns, id, e)
			return Result{Entity: e}, nil
		}
		if err := f.onlineFailure(err); err != nil {
			return Result{}, err
		}
	} else if !f.online() && !f.cfg.OfflineModeEnabled {
		return Result{}, f.offlineError("update")
	}

	current, ok := f.deps.Cache.GetEntity(ctx, f.ns, id)
	if !ok {
		current = models.Entity{}
	}
	merged := current.Merge(patch)
	merged[models.IDField] = id

	f.deps.Cache.Put(ctx, f.ns, id, merged)
	if err := f.enqueue(ctx, models.OperationUpdate, id, patch); err != nil {
		if ok {
			f.deps.Cache.Put(ctx, f.ns, id, current)
		} else {
			f.deps.Cache.Delete(ctx, f.ns, id)
		}
		return Result{}, err
	}
	return Result{Entity: merged, Pending: true}, nil
}

// Delete removes an entity.
func (f *Facade) Delete(ctx context.Context, id string) (Result, error) {
	id = f.deps.IDs.Resolve(id)

	direct := f.online() && !uuid.IsTemp(id) && !f.pending(id)
	if direct {
		err := f.client.Delete(ctx, id)
		if err == nil {
			f.deps.Cache.Delete(ctx, f.ns, id)
			return Result{}, nil
		}
		if err := f.onlineFailure(err); err != nil {
			return Result{}, err
		}
	} else if !f.online() && !f.cfg.OfflineModeEnabled {
		return Result{}, f.offlineError("delete")
	}

	previous, hadPrevious := f.deps.Cache.GetEntity(ctx, f.ns, id)
	f.deps.Cache.Delete(ctx, f.ns, id)
	if err := f.enqueue(ctx, models.OperationDelete, id, nil); err != nil {
		if hadPrevious {
			f.deps.Cache.Put(ctx, f.ns, id, previous)
		}
		return Result{}, err
	}
	return Result{Pending: true}, nil
}

// onlineFailure decides what a failed online write does. A nil return
// means the write should take the offline path.
func (f *Facade) onlineFailure(err error) error {
	if !apperrors.IsRetryable(err) || apperrors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if f.cfg.WriteFailurePolicy == config.WriteFailureFail || !f.cfg.OfflineModeEnabled {
		if apperrors.Is(err, apperrors.ErrRemoteUnavailable) {
			return err
		}
		return apperrors.Wrap(apperrors.ErrRemoteUnavailable, "remote write failed", err)
	}
	f.fellBack(err)
	return nil
}

func (f *Facade) enqueue(ctx context.Context, op models.Operation, id string, payload models.Entity) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrSerialization, "encode payload", err)
		}
		raw = data
	}
	itemID, err := f.deps.Outbox.Enqueue(ctx, op, f.entityType, id, raw)
	if err != nil {
		return err
	}
	f.deps.Metrics.Inc(telemetry.ItemsEnqueued)
	f.deps.Bus.Publish(events.OutboxEnqueued, map[string]interface{}{
		"id": itemID, "operation": string(op), "entity_type": string(f.entityType), "entity_id": id,
	})
	if f.online() && f.deps.Drainer != nil {
		f.deps.Drainer.RequestDrain()
	}
	return nil
}

// resolveRefs swaps reconciled temporary ids inside a payload.
func (f *Facade) resolveRefs(payload models.Entity) models.Entity {
	if len(payload) == 0 || f.deps.IDs.Len() == 0 {
		return payload
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return payload
	}
	rewritten, changed := f.deps.IDs.Rewrite(raw)
	if !changed {
		return payload
	}
	e, err := models.DecodeEntity(rewritten)
	if err != nil {
		return payload
	}
	return e
}

func (f *Facade) fellBack(err error) {
	f.deps.Metrics.Inc(telemetry.CacheFallbacks)
	f.log.Warn("remote call failed, using local state", logging.Fields{"error": err.Error()})
}

func (f *Facade) notCached(id string, remoteErr error) error {
	if remoteErr != nil {
		return apperrors.Wrap(apperrors.ErrNotFound, string(f.entityType)+" "+id+" not cached", remoteErr)
	}
	if !f.online() {
		return apperrors.Wrap(apperrors.ErrNotFound, string(f.entityType)+" "+id+" not cached",
			apperrors.New(apperrors.ErrOffline, "backend unreachable"))
	}
	return apperrors.Newf(apperrors.ErrNotFound, "%s %s not cached", f.entityType, id)
}

func (f *Facade) offlineError(op string) error {
	return apperrors.Newf(apperrors.ErrOffline, "cannot %s %s while offline: offline mode disabled", op, f.entityType)
}
