// Package storage persists per-session loop state in SQLite (default) or a
// Postgres-compatible database such as CockroachDB.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/hookguard/internal/backoff"
	"github.com/haasonsaas/hookguard/internal/loop"
)

// connectAttempts bounds Postgres ping retries.
const connectAttempts = 4

// Dialect selects SQL placeholder syntax and the database/sql driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config selects and tunes the backing database.
type Config struct {
	Driver Dialect `yaml:"driver" json:"driver" jsonschema:"enum=sqlite,enum=postgres"`
	// Path is the SQLite file.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	MaxOpenConns    int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
}

// Store implements loop.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ loop.Store = (*Store)(nil)

// Open connects, applies migrations and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case "", DialectSQLite:
		return openSQLite(ctx, cfg.Path)
	case DialectPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return migrated(ctx, db, DialectSQLite)
}

func openPostgres(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage: dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxLifetime(lifetime)

	// The server may still be starting; retry the ping within the timeout.
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err = backoff.Retry(pingCtx, backoff.ConnectPolicy(), connectAttempts, func(int) error {
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return migrated(ctx, db, DialectPostgres)
}

func migrated(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Callers are responsible for migrations.
func New(db *sql.DB, dialect Dialect) *Store {
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Load implements loop.Store.
func (s *Store) Load(ctx context.Context, sessionID string) (loop.State, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT session_id, breaker, iterations, consecutive_no_progress, error_signature,
	error_count, consecutive_test_only, trip_reason, updated_at
FROM loop_states WHERE session_id = ?`), sessionID)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loop.State{}, loop.ErrNotFound
	}
	if err != nil {
		return loop.State{}, fmt.Errorf("load loop state %s: %w", sessionID, err)
	}
	return st, nil
}

// Save implements loop.Store.
func (s *Store) Save(ctx context.Context, st loop.State) error {
	if st.SessionID == "" {
		return errors.New("storage: session id is required")
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO loop_states(session_id, breaker, iterations, consecutive_no_progress, error_signature,
	error_count, consecutive_test_only, trip_reason, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	breaker=excluded.breaker,
	iterations=excluded.iterations,
	consecutive_no_progress=excluded.consecutive_no_progress,
	error_signature=excluded.error_signature,
	error_count=excluded.error_count,
	consecutive_test_only=excluded.consecutive_test_only,
	trip_reason=excluded.trip_reason,
	updated_at=excluded.updated_at
`), st.SessionID, string(st.Breaker), st.Iterations, st.ConsecutiveNoProgress, st.ErrorSignature,
		st.ErrorCount, st.ConsecutiveTestOnly, st.TripReason, ts(st.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save loop state %s: %w", st.SessionID, err)
	}
	return nil
}

// Delete implements loop.Store.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM loop_states WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("delete loop state %s: %w", sessionID, err)
	}
	return nil
}

// List implements loop.Store.
func (s *Store) List(ctx context.Context) ([]loop.State, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, breaker, iterations, consecutive_no_progress, error_signature,
	error_count, consecutive_test_only, trip_reason, updated_at
FROM loop_states ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("list loop states: %w", err)
	}
	defer rows.Close()

	var out []loop.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loop state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list loop states: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (loop.State, error) {
	var (
		st      loop.State
		breaker string
		updated string
	)
	if err := row.Scan(&st.SessionID, &breaker, &st.Iterations, &st.ConsecutiveNoProgress, &st.ErrorSignature,
		&st.ErrorCount, &st.ConsecutiveTestOnly, &st.TripReason, &updated); err != nil {
		return loop.State{}, err
	}
	st.Breaker = loop.BreakerState(breaker)
	t, err := parseTS(updated)
	if err != nil {
		return loop.State{}, fmt.Errorf("parse updated_at %q: %w", updated, err)
	}
	st.UpdatedAt = t
	return st, nil
}

// rebind rewrites ? placeholders as $1, $2... for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
