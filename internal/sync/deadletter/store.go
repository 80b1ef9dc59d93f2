package deadletter

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
)

// KeyPrefix starts every persisted dead letter key.
const KeyPrefix = "deadletter:"

// Restorer puts an item back into the outbox.
type Restorer interface {
	Restore(ctx context.Context, item models.OutboxItem) error
}

// StoreSink keeps dropped items under deadletter:{id} so they can be
// inspected and requeued.
type StoreSink struct {
	store storage.Store
}

// NewStoreSink creates a StoreSink over store.
func NewStoreSink(store storage.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Drop implements Sink.
func (s *StoreSink) Drop(ctx context.Context, letter models.DeadLetter) error {
	blob, err := json.Marshal(letter)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrSerialization, "encode dead letter", err)
	}
	if err := s.store.Set(ctx, KeyPrefix+letter.Item.ID, blob); err != nil {
		return apperrors.Wrap(apperrors.ErrDeadLetter, "store dead letter", err)
	}
	return nil
}

// Get returns one dead letter.
func (s *StoreSink) Get(ctx context.Context, id string) (models.DeadLetter, error) {
	blob, err := s.store.Get(ctx, KeyPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return models.DeadLetter{}, apperrors.Newf(apperrors.ErrNotFound, "dead letter %s not found", id)
		}
		return models.DeadLetter{}, apperrors.Wrap(apperrors.ErrStorage, "read dead letter", err)
	}
	var letter models.DeadLetter
	if err := json.Unmarshal(blob, &letter); err != nil {
		return models.DeadLetter{}, apperrors.Wrap(apperrors.ErrSerialization, "decode dead letter", err)
	}
	return letter, nil
}

// List returns every stored dead letter, oldest drop first. Undecodable
// entries are skipped.
func (s *StoreSink) List(ctx context.Context) ([]models.DeadLetter, error) {
	keys, err := s.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list dead letters", err)
	}
	letters := make([]models.DeadLetter, 0, len(keys))
	for _, key := range keys {
		letter, err := s.Get(ctx, strings.TrimPrefix(key, KeyPrefix))
		if err != nil {
			continue
		}
		letters = append(letters, letter)
	}
	sort.SliceStable(letters, func(i, j int) bool {
		return letters[i].DroppedAt.Before(letters[j].DroppedAt)
	})
	return letters, nil
}

// Requeue hands the dead letter back to the outbox and deletes it here.
func (s *StoreSink) Requeue(ctx context.Context, id string, outbox Restorer) error {
	letter, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := outbox.Restore(ctx, letter.Item); err != nil {
		return err
	}
	return s.Delete(ctx, id)
}

// Delete discards a dead letter.
func (s *StoreSink) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, KeyPrefix+id); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "delete dead letter", err)
	}
	return nil
}
