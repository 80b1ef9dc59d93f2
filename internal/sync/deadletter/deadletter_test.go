package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/sync/queue"
)

func letter(id string, droppedAt time.Time) models.DeadLetter {
	return models.DeadLetter{
		Item: models.OutboxItem{
			ID:         id,
			Operation:  models.OperationCreate,
			EntityType: models.EntityOrder,
			EntityID:   "tmp-" + id,
			Payload:    json.RawMessage(`{"total":1}`),
			RetryCount: 3,
			LastError:  "remote unavailable",
		},
		Reason:    "retries exhausted",
		DroppedAt: droppedAt,
	}
}

func TestStoreSinkListOrdered(t *testing.T) {
	ctx := context.Background()
	sink := NewStoreSink(storage.NewMemory())
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Drop(ctx, letter("b", base.Add(time.Minute))))
	require.NoError(t, sink.Drop(ctx, letter("a", base.Add(2*time.Minute))))
	require.NoError(t, sink.Drop(ctx, letter("c", base)))

	list, err := sink.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, []string{"c", "b", "a"}, []string{list[0].Item.ID, list[1].Item.ID, list[2].Item.ID})
}

func TestStoreSinkRequeue(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	sink := NewStoreSink(store)
	outbox := queue.New(store, 0)

	require.NoError(t, sink.Drop(ctx, letter("x1", time.Now())))
	require.NoError(t, sink.Requeue(ctx, "x1", outbox))

	item, ok := outbox.Get("x1")
	require.True(t, ok)
	require.Zero(t, item.RetryCount)

	_, err := sink.Get(ctx, "x1")
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	err = sink.Requeue(ctx, "x1", outbox)
	require.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

type fakePublisher struct {
	topic   string
	bodies  [][]byte
	fail    bool
	stopped bool
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	if f.fail {
		return errors.New("nsqd down")
	}
	f.topic = topic
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakePublisher) Stop() { f.stopped = true }

func TestNSQSink(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	sink := NewNSQSinkWithPublisher(pub, "kraftsync_deadletter")

	require.NoError(t, sink.Drop(ctx, letter("n1", time.Now())))
	require.Equal(t, "kraftsync_deadletter", pub.topic)
	require.Len(t, pub.bodies, 1)

	var got models.DeadLetter
	require.NoError(t, json.Unmarshal(pub.bodies[0], &got))
	require.Equal(t, "n1", got.Item.ID)

	pub.fail = true
	err := sink.Drop(ctx, letter("n2", time.Now()))
	require.True(t, apperrors.Is(err, apperrors.ErrDeadLetter))

	sink.Close()
	require.True(t, pub.stopped)
}

type failingSink struct{}

func (failingSink) Drop(context.Context, models.DeadLetter) error { return errors.New("boom") }

func TestMultiTriesEverySink(t *testing.T) {
	ctx := context.Background()
	store := NewStoreSink(storage.NewMemory())
	m := Multi{failingSink{}, LogSink{}, store}

	require.Error(t, m.Drop(ctx, letter("m1", time.Now())))
	_, err := store.Get(ctx, "m1")
	require.NoError(t, err)
}
