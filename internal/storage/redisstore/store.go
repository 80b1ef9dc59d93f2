// Package redisstore implements storage.Store on Redis so several
// processes on one device can share cache and outbox state.
package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
)

const (
	DefaultNamespace = "kraftsync"
	scanBatch        = 256
)

// Store keeps every key under "<namespace>:".
type Store struct {
	client    redis.UniversalClient
	namespace string
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing client.
func New(client redis.UniversalClient, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{client: client, namespace: namespace}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, namespace string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrap(apperrors.ErrStorage, "redis ping "+addr, err)
	}
	return New(client, namespace), nil
}

func (s *Store) fullKey(key string) string {
	return s.namespace + ":" + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrKeyNotFound(key)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "redis get "+key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.fullKey(key), value, 0).Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "redis set "+key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "redis del "+key, err)
	}
	return nil
}

// scan returns namespaced keys matching prefix.
func (s *Store) scan(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.fullKey(prefix)) + "*"
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "redis scan "+prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scan(ctx, prefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "redis del prefix "+prefix, err)
	}
	return int(n), nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	full, err := s.scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, s.namespace+":"))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters Redis MATCH treats specially.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
