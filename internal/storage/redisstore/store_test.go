package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage/storagetest"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(client, "test")
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, _ := newTestStore(t)
		return s
	})
}

// TestRedisStoreNamespacing verifies keys are written under the namespace.
func TestRedisStoreNamespacing(t *testing.T) {
	s, mr := newTestStore(t)
	require.NoError(t, s.Set(context.Background(), "outbox:state", []byte("[]")))

	got, err := mr.Get("test:outbox:state")
	require.NoError(t, err)
	require.Equal(t, "[]", got)
}

// TestRedisStoreGlobCharacters verifies prefixes are matched literally.
func TestRedisStoreGlobCharacters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Set(ctx, "cache:a*:1", []byte("1")))
	require.NoError(t, s.Set(ctx, "cache:ab:2", []byte("2")))

	keys, err := s.Keys(ctx, "cache:a*")
	require.NoError(t, err)
	require.Equal(t, []string{"cache:a*:1"}, keys)
}

// TestDial verifies PING failures surface as storage errors.
func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Dial(context.Background(), mr.Addr(), "", 0, "")
	require.NoError(t, err)
	require.Equal(t, DefaultNamespace, s.namespace)
	s.Close()

	addr := mr.Addr()
	mr.Close()
	_, err = Dial(context.Background(), addr, "", 0, "")
	require.Error(t, err)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `a\*b\?\[c\]`, escapeGlob("a*b?[c]"))
}
