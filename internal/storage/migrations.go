package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migration is one schema version. The SQL must be valid for every dialect.
type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS loop_states (
	session_id TEXT PRIMARY KEY,
	breaker TEXT NOT NULL CHECK(breaker IN ('closed','half-open','open')),
	iterations INTEGER NOT NULL DEFAULT 0,
	consecutive_no_progress INTEGER NOT NULL DEFAULT 0,
	error_signature TEXT NOT NULL DEFAULT '',
	error_count INTEGER NOT NULL DEFAULT 0,
	consecutive_test_only INTEGER NOT NULL DEFAULT 0,
	trip_reason TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`,
		DownSQL: `DROP TABLE IF EXISTS loop_states`,
	},
	{
		Version: 2,
		UpSQL:   `CREATE INDEX IF NOT EXISTS loop_states_breaker ON loop_states(breaker, updated_at)`,
		DownSQL: `DROP INDEX IF EXISTS loop_states_breaker`,
	},
}

// Migrations returns the schema history.
func Migrations() []Migration {
	return append([]Migration(nil), migrations...)
}

// Migrate applies every migration not yet recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM schema_migrations WHERE version = ?`), m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`), m.Version, ts(s.now())); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, or 0.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return int(v.Int64), nil
}

// RollbackAll reverts every applied migration, newest first.
func (s *Store) RollbackAll(ctx context.Context) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if _, err := s.db.ExecContext(ctx, m.DownSQL); err != nil {
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM schema_migrations WHERE version = ?`), m.Version); err != nil {
			return fmt.Errorf("unrecord migration %d: %w", m.Version, err)
		}
	}
	return nil
}
