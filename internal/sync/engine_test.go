package sync

import (
	"context"
	"encoding/json"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RMMwalali/kraftbasic-sub001/internal/cache"
	"github.com/RMMwalali/kraftbasic-sub001/internal/config"
	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/events"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/connectivity"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/deadletter"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/idmap"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/queue"
	"github.com/RMMwalali/kraftbasic-sub001/internal/telemetry"
	"github.com/RMMwalali/kraftbasic-sub001/internal/uuid"
)

type harness struct {
	engine  *Engine
	outbox  *queue.Outbox
	cache   *cache.Cache
	backend remote.MemoryBackend
	monitor *connectivity.Monitor
	ids     *idmap.Map
	dead    *deadletter.StoreSink
	bus     *events.Bus
	metrics *telemetry.Registry
}

func newHarness(t *testing.T, online bool, mutate func(cfg *config.SyncConfig, clients *remote.Clients)) *harness {
	t.Helper()
	store := storage.NewMemory()
	cfg := config.Default().Sync
	backend := remote.NewMemoryBackend()
	clients := backend.Clients()
	if mutate != nil {
		mutate(&cfg, &clients)
	}
	table, err := remote.NewTable(clients)
	require.NoError(t, err)

	h := &harness{
		outbox:  queue.New(store, 0),
		cache:   cache.New(store),
		backend: backend,
		monitor: connectivity.NewMonitor(online),
		ids:     idmap.New(store),
		dead:    deadletter.NewStoreSink(store),
		bus:     events.NewBus(),
		metrics: telemetry.NewRegistry(),
	}
	h.engine, err = New(cfg, Deps{
		Outbox:  h.outbox,
		Cache:   h.cache,
		Table:   table,
		Monitor: h.monitor,
		IDs:     h.ids,
		Sink:    h.dead,
		Bus:     h.bus,
		Metrics: h.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) enqueue(t *testing.T, op models.Operation, et models.EntityType, id string, payload string) string {
	t.Helper()
	var raw json.RawMessage
	if payload != "" {
		raw = json.RawMessage(payload)
	}
	itemID, err := h.outbox.Enqueue(context.Background(), op, et, id, raw)
	require.NoError(t, err)
	return itemID
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(config.Default().Sync, Deps{})
	require.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestDrainEmptiesOutboxInOnePass(t *testing.T) {
	h := newHarness(t, true, nil)
	h.backend[models.EntityUser].Seed(models.Entity{"id": "u1", "name": "Ann"})

	var seen []string
	h.bus.Subscribe(func(ev events.Event) { seen = append(seen, ev.Type) })

	h.enqueue(t, models.OperationCreate, models.EntityProduct, "", `{"name":"mug"}`)
	h.enqueue(t, models.OperationUpdate, models.EntityUser, "u1", `{"name":"Anne"}`)
	h.enqueue(t, models.OperationCreate, models.EntityNotification, "", `{"text":"hi"}`)

	res := h.engine.Drain(context.Background())
	require.Equal(t, 3, res.Synced)
	require.Zero(t, res.Remaining)
	require.Zero(t, h.outbox.Len())

	u, ok := h.cache.GetEntity(context.Background(), "user", "u1")
	require.True(t, ok)
	require.Equal(t, "Anne", u["name"])

	require.Equal(t, events.DrainStarted, seen[0])
	require.Equal(t, events.DrainCompleted, seen[len(seen)-1])
	require.Equal(t, int64(3), h.metrics.Count(telemetry.ItemsSynced))
}

// TestRetryThenDrop checks queue length 1, 1, 1, 0 across three failing
// passes with MaxRetries 3.
func TestRetryThenDrop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, nil)
	h.backend.FailWith(apperrors.New(apperrors.ErrRemoteUnavailable, "backend down"))

	id := h.enqueue(t, models.OperationCreate, models.EntityOrder, "", `{"total":5}`)
	require.Equal(t, 1, h.outbox.Len())

	h.engine.Drain(ctx)
	require.Equal(t, 1, h.outbox.Len())
	item, _ := h.outbox.Get(id)
	require.Equal(t, 1, item.RetryCount)
	require.Contains(t, item.LastError, "backend down")

	h.engine.Drain(ctx)
	require.Equal(t, 1, h.outbox.Len())

	res := h.engine.Drain(ctx)
	require.Equal(t, 1, res.Dropped)
	require.Zero(t, h.outbox.Len())

	letter, err := h.dead.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ReasonRetriesExhausted, letter.Reason)
	require.Equal(t, 3, letter.Item.RetryCount)
}

// TestEnqueueDuringDrainWaitsForNextPass enqueues from inside a remote
// call; the new item is not part of the running pass.
func TestEnqueueDuringDrainWaitsForNextPass(t *testing.T) {
	ctx := context.Background()
	var h *harness
	var once stdsync.Once
	h = newHarness(t, true, func(cfg *config.SyncConfig, clients *remote.Clients) {
		clients.Product = remote.Func{
			CreateFunc: func(ctx context.Context, payload models.Entity) (models.Entity, error) {
				once.Do(func() {
					h.enqueue(t, models.OperationCreate, models.EntityProduct, "", `{"name":"lid"}`)
				})
				out := models.Entity{}
				for k, v := range payload {
					out[k] = v
				}
				out["id"] = uuid.New()
				return out, nil
			},
		}
	})

	h.enqueue(t, models.OperationCreate, models.EntityProduct, "", `{"name":"mug"}`)

	first := h.engine.Drain(ctx)
	require.Equal(t, 1, first.Attempted)
	require.Equal(t, 1, first.Synced)
	require.Equal(t, 1, first.Remaining)

	snap := h.outbox.Snapshot()
	require.Len(t, snap, 1)
	require.JSONEq(t, `{"name":"lid"}`, string(snap[0].Payload))

	second := h.engine.Drain(ctx)
	require.Equal(t, 1, second.Attempted)
	require.Zero(t, second.Remaining)
}

func TestReasonCode(t *testing.T) {
	tests := []struct {
		reason string
		want   apperrors.ErrorCode
	}{
		{ReasonRejected, apperrors.ErrRemoteRejected},
		{ReasonOrphaned, apperrors.ErrNotFound},
		{ReasonRetriesExhausted, apperrors.ErrRetryExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			require.Equal(t, tt.want, reasonCode(tt.reason))
		})
	}
}

func TestCancelledDispatchKeepsRetryCount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, true, func(cfg *config.SyncConfig, clients *remote.Clients) {
		clients.Order = remote.Func{
			CreateFunc: func(ctx context.Context, payload models.Entity) (models.Entity, error) {
				cancel()
				return nil, apperrors.Wrap(apperrors.ErrRemoteUnavailable, "create order", ctx.Err())
			},
		}
	})

	id := h.enqueue(t, models.OperationCreate, models.EntityOrder, "", `{"total":5}`)
	res := h.engine.Drain(ctx)
	require.Zero(t, res.Retried)
	require.Zero(t, res.Dropped)

	item, ok := h.outbox.Get(id)
	require.True(t, ok)
	require.Zero(t, item.RetryCount)
	require.Empty(t, item.LastError)
}

func TestRejectedIsDroppedImmediately(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, nil)
	h.backend[models.EntityDesign].FailWith(apperrors.New(apperrors.ErrRemoteRejected, "invalid design"))

	id := h.enqueue(t, models.OperationCreate, models.EntityDesign, "", `{"name":"x"}`)
	res := h.engine.Drain(ctx)
	require.Equal(t, 1, res.Dropped)

	letter, err := h.dead.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ReasonRejected, letter.Reason)
}

func TestExponentialBackoffDelaysRetry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, nil)
	h.engine.policy = exponentialForTest{}
	h.backend.FailWith(apperrors.New(apperrors.ErrRemoteUnavailable, "down"))

	id := h.enqueue(t, models.OperationCreate, models.EntityOrder, "", `{}`)
	h.engine.Drain(ctx)

	res := h.engine.Drain(ctx)
	require.Zero(t, res.Attempted)
	item, _ := h.outbox.Get(id)
	require.Equal(t, 1, item.RetryCount)
	require.True(t, item.NextAttemptAt.After(time.Now()))
}

type exponentialForTest struct{}

func (exponentialForTest) Delay(n int) time.Duration { return time.Duration(n) * time.Hour }
func (exponentialForTest) Name() string              { return "test" }

func TestDrainSkippedWhileOffline(t *testing.T) {
	h := newHarness(t, false, nil)
	h.enqueue(t, models.OperationCreate, models.EntityUser, "", `{}`)

	res := h.engine.Drain(context.Background())
	require.True(t, res.Skipped)
	require.Equal(t, 1, res.Remaining)
	require.Zero(t, h.backend[models.EntityUser].Calls())
}

func TestDeleteOfMissingEntityCountsAsSynced(t *testing.T) {
	h := newHarness(t, true, nil)
	h.enqueue(t, models.OperationDelete, models.EntityCartItem, "gone", "")

	res := h.engine.Drain(context.Background())
	require.Equal(t, 1, res.Synced)
	require.Zero(t, h.outbox.Len())
}

// TestReconnectTriggersDrain uses an hour-long interval so only the
// connectivity edge can start the pass.
func TestReconnectTriggersDrain(t *testing.T) {
	h := newHarness(t, false, func(cfg *config.SyncConfig, _ *remote.Clients) {
		cfg.DrainInterval = time.Hour
	})
	h.engine.Start(context.Background())
	h.enqueue(t, models.OperationCreate, models.EntityMessageThread, "", `{"subject":"hello"}`)

	h.monitor.SetOnline(true)

	require.Eventually(t, func() bool { return h.outbox.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.backend[models.EntityMessageThread].Len())
}

func TestStopUnsubscribes(t *testing.T) {
	h := newHarness(t, false, func(cfg *config.SyncConfig, _ *remote.Clients) {
		cfg.DrainInterval = time.Hour
	})
	h.engine.Start(context.Background())
	h.engine.Start(context.Background())
	require.True(t, h.engine.Running())
	h.engine.Stop()
	require.False(t, h.engine.Running())

	h.enqueue(t, models.OperationCreate, models.EntityUser, "", `{}`)
	h.monitor.SetOnline(true)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, h.outbox.Len())
}

func TestReconcileRewritesDependents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, nil)

	productTemp := uuid.NewTemp()
	cartTemp := uuid.NewTemp()
	h.cache.Put(ctx, "product", productTemp, models.Entity{"id": productTemp, "name": "mug"})
	h.cache.Put(ctx, "cart_item", cartTemp, models.Entity{"id": cartTemp, "product_id": productTemp})

	h.enqueue(t, models.OperationCreate, models.EntityProduct, productTemp, `{"id":"`+productTemp+`","name":"mug"}`)
	h.enqueue(t, models.OperationUpdate, models.EntityProduct, productTemp, `{"price":10}`)
	h.enqueue(t, models.OperationCreate, models.EntityCartItem, cartTemp, `{"id":"`+cartTemp+`","product_id":"`+productTemp+`"}`)

	res := h.engine.Drain(ctx)
	require.Equal(t, 3, res.Synced)
	require.Equal(t, 2, res.Reconciled)

	realProduct, ok := h.ids.Lookup(productTemp)
	require.True(t, ok)

	products := h.backend[models.EntityProduct].Snapshot()
	require.Len(t, products, 1)
	require.Equal(t, realProduct, products[0].ID())
	require.EqualValues(t, 10, products[0]["price"])

	carts := h.backend[models.EntityCartItem].Snapshot()
	require.Len(t, carts, 1)
	require.Equal(t, realProduct, carts[0]["product_id"])

	_, ok = h.cache.Get(ctx, "product", productTemp)
	require.False(t, ok)
	cached, ok := h.cache.GetEntity(ctx, "product", realProduct)
	require.True(t, ok)
	require.Equal(t, realProduct, cached.ID())

	realCart, _ := h.ids.Lookup(cartTemp)
	cart, ok := h.cache.GetEntity(ctx, "cart_item", realCart)
	require.True(t, ok)
	require.Equal(t, realProduct, cart["product_id"])
}

func TestUpdateWaitsForFailedCreateThenOrphans(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, func(cfg *config.SyncConfig, _ *remote.Clients) {
		cfg.MaxRetries = 2
	})
	h.backend[models.EntityProduct].FailWith(apperrors.New(apperrors.ErrRemoteUnavailable, "down"))

	temp := uuid.NewTemp()
	h.enqueue(t, models.OperationCreate, models.EntityProduct, temp, `{"id":"`+temp+`"}`)
	updateID := h.enqueue(t, models.OperationUpdate, models.EntityProduct, temp, `{"price":1}`)

	res := h.engine.Drain(ctx)
	require.Equal(t, 1, res.Retried)
	require.Equal(t, 1, res.Deferred)
	require.Equal(t, 2, h.outbox.Len())

	res = h.engine.Drain(ctx)
	require.Equal(t, 2, res.Dropped)
	require.Zero(t, h.outbox.Len())

	letter, err := h.dead.Get(ctx, updateID)
	require.NoError(t, err)
	require.Equal(t, ReasonOrphaned, letter.Reason)
}

func TestPanickingClientIsContained(t *testing.T) {
	h := newHarness(t, true, func(_ *config.SyncConfig, clients *remote.Clients) {
		clients.Order = remote.Func{CreateFunc: func(context.Context, models.Entity) (models.Entity, error) {
			panic("boom")
		}}
	})
	h.enqueue(t, models.OperationCreate, models.EntityOrder, "", `{}`)

	res := h.engine.Drain(context.Background())
	require.Equal(t, 1, res.Retried)
	require.Equal(t, 1, h.outbox.Len())
}

func TestConcurrentDrainsCoalesce(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, true, func(_ *config.SyncConfig, clients *remote.Clients) {
		clients.Product = remote.Func{CreateFunc: func(ctx context.Context, p models.Entity) (models.Entity, error) {
			if calls.Add(1) == 1 {
				close(entered)
			}
			<-release
			return models.Entity{"id": "p1"}, nil
		}}
	})
	h.enqueue(t, models.OperationCreate, models.EntityProduct, "", `{}`)

	var wg stdsync.WaitGroup
	results := make([]DrainResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = h.engine.Drain(context.Background())
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = h.engine.Drain(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 1, results[0].Synced)
	require.Zero(t, h.outbox.Len())
}
