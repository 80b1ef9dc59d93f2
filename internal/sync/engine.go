// Package sync replays the outbox against the backend. A drain pass walks
// the queue in enqueue order, removes acknowledged items, schedules
// retries for transient failures and hands exhausted items to the
// dead-letter sink.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RMMwalali/kraftbasic-sub001/internal/cache"
	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/events"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/connectivity"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/deadletter"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/idmap"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/queue"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/retry"
	"github.com/RMMwalali/kraftbasic-sub001/internal/telemetry"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

// Dead-letter reasons.
const (
	ReasonRetriesExhausted = "retries exhausted"
	ReasonRejected         = "rejected by backend"
	ReasonOrphaned         = "depends on a create that was dropped"
)

// Deps are the collaborators of an Engine. Policy, Sink, Bus and Metrics
// are optional.
type Deps struct {
	Outbox  *queue.Outbox
	Cache   *cache.Cache
	Table   *remote.Table
	Monitor *connectivity.Monitor
	IDs     *idmap.Map
	Policy  retry.Policy
	Sink    deadletter.Sink
	Bus     *events.Bus
	Metrics *telemetry.Registry
}

// DrainResult reports what one pass did.
type DrainResult struct {
	Skipped    bool          `json:"skipped" yaml:"skipped"`
	Attempted  int           `json:"attempted" yaml:"attempted"`
	Synced     int           `json:"synced" yaml:"synced"`
	Retried    int           `json:"retried" yaml:"retried"`
	Dropped    int           `json:"dropped" yaml:"dropped"`
	Deferred   int           `json:"deferred" yaml:"deferred"`
	Reconciled int           `json:"reconciled" yaml:"reconciled"`
	Remaining  int           `json:"remaining" yaml:"remaining"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Engine drains the outbox.
type Engine struct {
	cfg     config.SyncConfig
	outbox  *queue.Outbox
	cache   *cache.Cache
	table   *remote.Table
	monitor *connectivity.Monitor
	ids     *idmap.Map
	policy  retry.Policy
	sink    deadletter.Sink
	bus     *events.Bus
	metrics *telemetry.Registry
	log     *logging.Logger
	now     func() time.Time

	group   singleflight.Group
	trigger chan struct{}

	mu          stdsync.Mutex
	running     bool
	stopCh      chan struct{}
	unsubscribe func()
	wg          stdsync.WaitGroup
}

// New creates an Engine. The table's timeout should already reflect
// cfg.RemoteTimeout.
func New(cfg config.SyncConfig, deps Deps) (*Engine, error) {
	if deps.Outbox == nil || deps.Cache == nil || deps.Table == nil || deps.Monitor == nil || deps.IDs == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "engine requires outbox, cache, table, monitor and id map")
	}
	if cfg.MaxRetries < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "max retries must be positive, got %d", cfg.MaxRetries)
	}
	if deps.Policy == nil {
		deps.Policy = retry.Fixed{}
	}
	if deps.Sink == nil {
		deps.Sink = deadletter.LogSink{}
	}
	return &Engine{
		cfg:     cfg,
		outbox:  deps.Outbox,
		cache:   deps.Cache,
		table:   deps.Table,
		monitor: deps.Monitor,
		ids:     deps.IDs,
		policy:  deps.Policy,
		sink:    deps.Sink,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		log:     logging.Get().With("sync"),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}, nil
}

// Drain runs one pass. A call that arrives while a pass is running waits
// for that pass and shares its result.
func (e *Engine) Drain(ctx context.Context) DrainResult {
	v, _, _ := e.group.Do("drain", func() (interface{}, error) {
		return e.drain(ctx), nil
	})
	return v.(DrainResult)
}

func (e *Engine) drain(ctx context.Context) DrainResult {
	start := e.now()
	var res DrainResult

	if !e.monitor.IsOnline() {
		res.Skipped = true
		res.Remaining = e.outbox.Len()
		e.metrics.Inc(telemetry.DrainSkipped)
		e.log.Debug("drain skipped while offline", logging.Fields{"pending": res.Remaining})
		return res
	}

	snapshot := e.outbox.Snapshot()
	e.metrics.Inc(telemetry.DrainPasses)
	e.bus.Publish(events.DrainStarted, map[string]interface{}{"pending": len(snapshot)})

	for _, queued := range snapshot {
		if ctx.Err() != nil || !e.monitor.IsOnline() {
			break
		}
		// Earlier items in this pass may have rewritten this one.
		item, ok := e.outbox.Get(queued.ID)
		if !ok || !item.Ready(e.now()) {
			continue
		}
		e.process(ctx, item, &res)
	}

	if err := e.outbox.Persist(ctx); err != nil {
		e.log.ErrorWithCode("outbox persist after drain failed", string(apperrors.CodeOf(err)), err)
	}

	res.Remaining = e.outbox.Len()
	res.Duration = e.now().Sub(start)
	e.metrics.RecordTiming("drain", res.Duration)
	e.bus.Publish(events.DrainCompleted, map[string]interface{}{
		"attempted":  res.Attempted,
		"synced":     res.Synced,
		"retried":    res.Retried,
		"dropped":    res.Dropped,
		"reconciled": res.Reconciled,
		"remaining":  res.Remaining,
	})
	if res.Attempted > 0 {
		e.log.Info("drain completed", logging.Fields{
			"synced": res.Synced, "retried": res.Retried, "dropped": res.Dropped, "remaining": res.Remaining,
		})
	}
	return res
}

func (e *Engine) process(ctx context.Context, item models.OutboxItem, res *DrainResult) {
	resolved := e.resolve(item)

	// Updates and deletes of an offline-created entity wait for its create.
	if item.Operation != models.OperationCreate && uuid.IsTemp(resolved.EntityID) {
		if e.hasPendingCreate(resolved.EntityID) {
			res.Deferred++
			return
		}
		e.drop(ctx, item, ReasonOrphaned, res)
		return
	}

	res.Attempted++
	result, err := e.dispatch(ctx, resolved)
	if err == nil || (item.Operation == models.OperationDelete && apperrors.Is(err, apperrors.ErrNotFound)) {
		e.acknowledge(ctx, item, result, res)
		return
	}

	if ctx.Err() != nil {
		// Shutdown interrupted the call; the item stays as it was.
		e.log.Debug("dispatch interrupted", logging.Fields{"id": item.ID, "error": err.Error()})
		return
	}

	e.metrics.Inc(telemetry.RemoteFailures)
	item.RetryCount++
	item.LastError = err.Error()

	permanent := !apperrors.IsRetryable(err) ||
		(item.Operation == models.OperationUpdate && apperrors.Is(err, apperrors.ErrNotFound))
	switch {
	case permanent:
		e.drop(ctx, item, ReasonRejected, res)
	case item.RetryCount >= e.cfg.MaxRetries:
		e.drop(ctx, item, ReasonRetriesExhausted, res)
	default:
		delay := e.policy.Delay(item.RetryCount)
		item.NextAttemptAt = e.now().Add(delay).UTC()
		if err := e.outbox.Update(item); err != nil {
			e.log.Warn("retry bookkeeping failed", logging.Fields{"id": item.ID, "error": err.Error()})
			return
		}
		res.Retried++
		e.metrics.Inc(telemetry.ItemsRetried)
		e.bus.Publish(events.ItemRetry, map[string]interface{}{
			"id": item.ID, "entity_type": string(item.EntityType), "retry_count": item.RetryCount,
			"next_attempt_at": item.NextAttemptAt, "error": item.LastError,
		})
		e.log.Warn("outbox item will be retried", logging.Fields{
			"id": item.ID, "retry_count": item.RetryCount, "max_retries": e.cfg.MaxRetries,
			"delay": delay.String(), "error": item.LastError,
		})
	}
}

// dispatch shields the pass from a panicking client.
func (e *Engine) dispatch(ctx context.Context, item models.OutboxItem) (result models.Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrInternal, fmt.Sprintf("remote client panicked: %v", r))
		}
	}()
	return e.table.Dispatch(ctx, item)
}

// resolve rewrites temp ids that have already been reconciled.
func (e *Engine) resolve(item models.OutboxItem) models.OutboxItem {
	item.EntityID = e.ids.Resolve(item.EntityID)
	if payload, changed := e.ids.Rewrite(item.Payload); changed {
		item.Payload = payload
	}
	return item
}

func (e *Engine) hasPendingCreate(tempID string) bool {
	for _, it := range e.outbox.Snapshot() {
		if it.Operation == models.OperationCreate && it.EntityID == tempID {
			return true
		}
	}
	return false
}

func (e *Engine) acknowledge(ctx context.Context, item models.OutboxItem, result models.Entity, res *DrainResult) {
	if err := e.outbox.Remove(ctx, item.ID); err != nil {
		e.log.ErrorWithCode("failed to remove synced item", string(apperrors.CodeOf(err)), err, logging.Fields{"id": item.ID})
		return
	}
	res.Synced++
	e.metrics.Inc(telemetry.ItemsSynced)

	ns := item.EntityType.Namespace()
	realID := result.ID()
	switch {
	case item.Operation == models.OperationCreate && uuid.IsTemp(item.EntityID) && realID != "" && realID != item.EntityID:
		e.reconcile(ctx, item, result)
		res.Reconciled++
	case item.Operation != models.OperationDelete && realID != "":
		e.cache.Put(ctx, ns, realID, result)
	}

	e.bus.Publish(events.ItemSynced, map[string]interface{}{
		"id": item.ID, "operation": string(item.Operation), "entity_type": string(item.EntityType), "entity_id": e.ids.Resolve(item.EntityID),
	})
}

// reconcile records temp->real, moves the cached record and rewrites every
// reference still held by the outbox or the cache.
func (e *Engine) reconcile(ctx context.Context, item models.OutboxItem, result models.Entity) {
	tempID, realID := item.EntityID, result.ID()
	if err := e.ids.Record(ctx, tempID, realID); err != nil {
		e.log.ErrorWithCode("failed to record id mapping", string(apperrors.CodeOf(err)), err,
			logging.Fields{"temp_id": tempID, "real_id": realID})
		return
	}

	ns := item.EntityType.Namespace()
	e.cache.Delete(ctx, ns, tempID)
	e.cache.Put(ctx, ns, realID, result)

	rewritten := e.outbox.Apply(func(it *models.OutboxItem) bool {
		changed := false
		if it.EntityID == tempID {
			it.EntityID = realID
			changed = true
		}
		if payload, ok := e.ids.Rewrite(it.Payload); ok {
			it.Payload = payload
			changed = true
		}
		return changed
	})

	cached := 0
	rewrite := func(_ string, data json.RawMessage) (json.RawMessage, bool) {
		return e.ids.Rewrite(data)
	}
	for _, t := range models.EntityTypes {
		cached += e.cache.Rewrite(ctx, t.Namespace(), rewrite)
	}

	e.metrics.Inc(telemetry.IDsReconciled)
	e.bus.Publish(events.IDReconciled, map[string]interface{}{
		"entity_type": string(item.EntityType), "temp_id": tempID, "real_id": realID,
	})
	e.log.Info("temporary id reconciled", logging.Fields{
		"entity_type": string(item.EntityType), "temp_id": tempID, "real_id": realID,
		"outbox_rewritten": rewritten, "cache_rewritten": cached,
	})
}

// reasonCode maps a dead-letter reason to the error code it is logged with.
func reasonCode(reason string) apperrors.ErrorCode {
	switch reason {
	case ReasonRejected:
		return apperrors.ErrRemoteRejected
	case ReasonOrphaned:
		return apperrors.ErrNotFound
	default:
		return apperrors.ErrRetryExhausted
	}
}

func (e *Engine) drop(ctx context.Context, item models.OutboxItem, reason string, res *DrainResult) {
	if err := e.outbox.Remove(ctx, item.ID); err != nil {
		e.log.ErrorWithCode("failed to remove dropped item", string(apperrors.CodeOf(err)), err, logging.Fields{"id": item.ID})
		return
	}
	res.Dropped++
	e.metrics.Inc(telemetry.ItemsDropped)

	e.log.ErrorWithCode("outbox item dropped", string(reasonCode(reason)), nil, logging.Fields{
		"id": item.ID, "operation": string(item.Operation), "entity_type": string(item.EntityType),
		"entity_id": item.EntityID, "retry_count": item.RetryCount, "reason": reason, "last_error": item.LastError,
	})

	letter := models.DeadLetter{Item: item, Reason: reason, DroppedAt: e.now().UTC()}
	if err := e.sink.Drop(ctx, letter); err != nil {
		e.log.ErrorWithCode("dead-letter sink failed", string(apperrors.ErrDeadLetter), err, logging.Fields{"id": item.ID})
	}
	e.bus.Publish(events.ItemDropped, map[string]interface{}{
		"id": item.ID, "entity_type": string(item.EntityType), "reason": reason, "error": item.LastError,
	})
}
