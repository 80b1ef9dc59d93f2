package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/storage"
)

const (
	queryGet          = `SELECT value FROM kv WHERE key = ?`
	queryUpsert       = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	queryDelete       = `DELETE FROM kv WHERE key = ?`
	queryDeletePrefix = `DELETE FROM kv WHERE substr(key, 1, ?) = ?`
	queryKeys         = `SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key`
)

// KVStore implements storage.Store on the kv table.
type KVStore struct {
	db *DB

	// Statements are prepared on first use and cached for reuse.
	stmtCache sync.Map // map[string]*sql.Stmt
}

var _ storage.Store = (*KVStore)(nil)

// NewKVStore wraps an opened and migrated database.
func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db}
}

// OpenKVStore opens dataDir, applies migrations and returns the store.
func OpenKVStore(ctx context.Context, dataDir string) (*KVStore, error) {
	database, err := Open(dataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "open sqlite", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "migrate sqlite", err)
	}
	return NewKVStore(database), nil
}

// prepareStmt gets or creates a prepared statement from cache.
func (s *KVStore) prepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := s.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// Another goroutine may have won the race; keep theirs.
	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	stmt, err := s.prepareStmt(ctx, queryGet)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "get "+key, err)
	}
	var value []byte
	if err := stmt.QueryRowContext(ctx, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrKeyNotFound(key)
		}
		return nil, apperrors.Wrap(apperrors.ErrStorage, "get "+key, err)
	}
	return value, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	stmt, err := s.prepareStmt(ctx, queryUpsert)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "set "+key, err)
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := stmt.ExecContext(ctx, key, value, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "set "+key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	stmt, err := s.prepareStmt(ctx, queryDelete)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "delete "+key, err)
	}
	if _, err := stmt.ExecContext(ctx, key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "delete "+key, err)
	}
	return nil
}

func (s *KVStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	stmt, err := s.prepareStmt(ctx, queryDeletePrefix)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "delete prefix "+prefix, err)
	}
	res, err := stmt.ExecContext(ctx, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "delete prefix "+prefix, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage, "delete prefix "+prefix, err)
	}
	return int(n), nil
}

func (s *KVStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	stmt, err := s.prepareStmt(ctx, queryKeys)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "keys "+prefix, err)
	}
	rows, err := stmt.QueryContext(ctx, utf8.RuneCountInString(prefix), prefix)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "keys "+prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "keys "+prefix, err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes cached statements and the database.
func (s *KVStore) Close() error {
	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stmtCache.Delete(key)
		return true
	})
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
