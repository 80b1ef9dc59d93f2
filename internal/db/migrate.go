package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
)

// Migrations holds the schema shipped with the binary.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const migrationsDir = "migrations"

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}

// script is a versioned pair of up and down SQL files.
type script struct {
	version  int
	name     string
	up       string
	down     string
	checksum string
}

// Migrator applies V<n>__<name>.up.sql scripts in version order and
// records a checksum of each so edited history is detected.
type Migrator struct {
	db      *sql.DB
	scripts []script
}

// NewMigrator reads every script under "migrations" in source.
func NewMigrator(db *sql.DB, source fs.FS) (*Migrator, error) {
	scripts, err := loadScripts(source)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, scripts: scripts}, nil
}

// splitScriptName parses "V3__add_index.up.sql" into (3, "add_index", "up").
func splitScriptName(file string) (int, string, string, bool) {
	var direction string
	switch {
	case strings.HasSuffix(file, ".up.sql"):
		direction = "up"
	case strings.HasSuffix(file, ".down.sql"):
		direction = "down"
	default:
		return 0, "", "", false
	}
	base := strings.TrimSuffix(file, "."+direction+".sql")
	prefix, name, found := strings.Cut(base, "__")
	if !found || name == "" || !strings.HasPrefix(prefix, "V") {
		return 0, "", "", false
	}
	version, err := strconv.Atoi(prefix[1:])
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, name, direction, true
}

func loadScripts(source fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(source, migrationsDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "read migrations", err)
	}

	byVersion := make(map[int]*script)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, ok := splitScriptName(entry.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(source, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMigration, "read "+entry.Name(), err)
		}
		s, exists := byVersion[version]
		if !exists {
			s = &script{version: version, name: name}
			byVersion[version] = s
		} else if s.name != name {
			return nil, apperrors.Newf(apperrors.ErrMigration, "version %d has two names: %s and %s", version, s.name, name)
		}
		if direction == "up" {
			sum := sha256.Sum256(body)
			s.up = string(body)
			s.checksum = hex.EncodeToString(sum[:])
		} else {
			s.down = string(body)
		}
	}

	scripts := make([]script, 0, len(byVersion))
	for _, s := range byVersion {
		if s.up == "" {
			return nil, apperrors.Newf(apperrors.ErrMigration, "version %d has no up script", s.version)
		}
		scripts = append(scripts, *s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		name TEXT NOT NULL CHECK(length(name) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0)
	);`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "create schema_migrations", err)
	}
	return nil
}

// Applied lists recorded migrations in version order.
func (m *Migrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx, "SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "query schema_migrations", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		var at int64
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum, &at); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrMigration, "scan schema_migrations", err)
		}
		a.AppliedAt = time.Unix(at, 0)
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrMigration, "iterate schema_migrations", err)
	}
	return applied, nil
}

// Version returns the highest applied version, 0 when none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil || len(applied) == 0 {
		return 0, err
	}
	return applied[len(applied)-1].Version, nil
}

// Up applies every pending script and returns how many ran. A recorded
// migration whose script checksum changed fails the whole run.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, err
	}
	done := make(map[int]string, len(applied))
	for _, a := range applied {
		done[a.Version] = a.Checksum
	}

	ran := 0
	for _, s := range m.scripts {
		if sum, ok := done[s.version]; ok {
			if sum != s.checksum {
				return ran, apperrors.Newf(apperrors.ErrMigration, "V%d__%s changed after it was applied", s.version, s.name)
			}
			continue
		}
		if err := m.apply(ctx, s); err != nil {
			return ran, err
		}
		ran++
		logging.Debug("migration applied", logging.Fields{"version": s.version, "name": s.name})
	}
	return ran, nil
}

func (m *Migrator) apply(ctx context.Context, s script) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.up); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "apply V"+strconv.Itoa(s.version), err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)",
		s.version, s.name, s.checksum, time.Now().Unix()); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "record V"+strconv.Itoa(s.version), err)
	}
	return tx.Commit()
}

// Down reverts the latest applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	current, err := m.Version(ctx)
	if err != nil {
		return err
	}
	if current == 0 {
		return apperrors.New(apperrors.ErrMigration, "nothing to roll back")
	}

	var target *script
	for i := range m.scripts {
		if m.scripts[i].version == current {
			target = &m.scripts[i]
			break
		}
	}
	if target == nil || target.down == "" {
		return apperrors.Newf(apperrors.ErrMigration, "no down script for version %d", current)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, target.down); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "revert V"+strconv.Itoa(current), err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "unrecord V"+strconv.Itoa(current), err)
	}
	return tx.Commit()
}
