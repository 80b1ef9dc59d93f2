// Package storagetest holds the behavior every storage.Store must share.
package storagetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
)

// Run exercises a fresh store produced by newStore.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		require.Error(t, err)
		require.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("SetGetOverwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "cache:product:p1", []byte(`{"v":1}`)))
		require.NoError(t, s.Set(ctx, "cache:product:p1", []byte(`{"v":2}`)))
		got, err := s.Get(ctx, "cache:product:p1")
		require.NoError(t, err)
		require.JSONEq(t, `{"v":2}`, string(got))
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "k", []byte("v")))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")
		_, err := s.Get(ctx, "k")
		require.True(t, storage.IsNotFound(err))
	})

	t.Run("PrefixOperations", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, "cache:order:b", []byte("2")))
		require.NoError(t, s.Set(ctx, "cache:order:a", []byte("1")))
		require.NoError(t, s.Set(ctx, "cache:orders_x:c", []byte("3")))
		require.NoError(t, s.Set(ctx, "outbox:state", []byte("[]")))

		keys, err := s.Keys(ctx, "cache:order:")
		require.NoError(t, err)
		require.Equal(t, []string{"cache:order:a", "cache:order:b"}, keys)

		n, err := s.DeletePrefix(ctx, "cache:order:")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		keys, err = s.Keys(ctx, "")
		require.NoError(t, err)
		require.Equal(t, []string{"cache:orders_x:c", "outbox:state"}, keys)
	})
}
