// Package store persists CRM records (users, API keys, contacts, companies,
// deals, activities, campaigns and approvals) in SQLite, PostgreSQL or
// MySQL through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Config selects and tunes the backing database.
type Config struct {
	Driver          string // sqlite (default), postgres or mysql
	DSN             string // for sqlite, a file path; empty means in-memory
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the CRM's persistence layer. It is safe for concurrent use.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// Open connects to the configured database and applies migrations.
func Open(cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := SanitizeDSN(d.name, cfg.DSN)
	if d.name == "sqlite" {
		dsn, err = sqliteDSN(cfg.DSN)
		if err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Connect(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s database: %w", d.name, err)
	}
	return s, nil
}

// sqliteDSN enables foreign keys on every connection and stores times in
// SQLite's own format so they compare correctly as text.
func sqliteDSN(path string) (string, error) {
	const params = "_pragma=foreign_keys(1)&_time_format=sqlite"
	if path == "" || path == ":memory:" {
		return ":memory:?" + params, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return path + "?" + params + "&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.dialect.name
}

// insert runs a named INSERT and returns the generated id.
func (s *Store) insert(ctx context.Context, ext sqlx.ExtContext, q string, arg interface{}) (int64, error) {
	if s.dialect.returning {
		query, args, err := sqlx.Named(q+" RETURNING id", arg)
		if err != nil {
			return 0, err
		}
		var id int64
		if err := sqlx.GetContext(ctx, ext, &id, s.db.Rebind(query), args...); err != nil {
			return 0, err
		}
		return id, nil
	}

	query, args, err := sqlx.Named(q, arg)
	if err != nil {
		return 0, err
	}
	result, err := ext.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// exec runs a ?-placeholder statement and maps zero affected rows to
// ErrNotFound.
func (s *Store) exec(ctx context.Context, ext sqlx.ExecerContext, what, q string, args ...interface{}) error {
	result, err := ext.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, classify(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// get scans a single row, mapping sql.ErrNoRows to ErrNotFound.
func (s *Store) get(ctx context.Context, dest interface{}, what, q string, args ...interface{}) error {
	if err := s.db.GetContext(ctx, dest, s.db.Rebind(q), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// classify maps unique-constraint violations from any backend to ErrConflict.
func classify(err error) error {
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate key") ||
		strings.Contains(lower, "duplicate entry") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// where accumulates AND-ed conditions for list queries.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// utcPtr normalizes optional caller-supplied times to UTC.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
