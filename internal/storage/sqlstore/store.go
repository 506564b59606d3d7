// Package sqlstore implements the storage interface on database/sql.
//
// Three dialects are supported:
//   - sqlite: local file ledger via modernc.org/sqlite (pure Go, the default)
//   - mysql:  Dolt sql-server or MySQL via github.com/go-sql-driver/mysql
//   - dolt:   embedded Dolt engine via github.com/dolthub/driver (cgo builds only)
//
// Every write is a single-row statement keyed by a natural identifier, so
// transient failures are retried with exponential backoff.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/storysync/storysync/internal/debug"
	"github.com/storysync/storysync/internal/storage"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
	BackendDolt   = "dolt"
)

// Config selects a backend and its data source.
type Config struct {
	Backend string // sqlite (default), mysql, dolt
	// DSN is a file path for sqlite, a go-sql-driver DSN for mysql, or a
	// directory for embedded dolt.
	DSN string
	// Database names the embedded dolt database (default "storysync").
	Database string
	// RetryMaxElapsed bounds transient-error retries (default 30s).
	RetryMaxElapsed time.Duration
}

// Store is a database/sql-backed storage.Storage.
type Store struct {
	db      *sql.DB
	dialect *dialect
	// closeExtra releases backend resources beyond db (embedded dolt connector).
	closeExtra func() error

	retryMaxElapsed time.Duration
	now             func() time.Time

	mu     sync.Mutex
	closed bool
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the configured backend and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("storage dsn is required for backend %s", backend)
	}

	var (
		db         *sql.DB
		closeExtra func() error
		err        error
	)
	switch backend {
	case BackendSQLite:
		db, err = openSQLite(cfg.DSN)
	case BackendMySQL:
		db, err = openMySQL(cfg.DSN)
	case BackendDolt:
		database := cfg.Database
		if database == "" {
			database = "storysync"
		}
		db, closeExtra, err = openEmbeddedDolt(ctx, cfg.DSN, database)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want sqlite, mysql or dolt)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:              db,
		dialect:         dialectFor(backend),
		closeExtra:      closeExtra,
		retryMaxElapsed: cfg.RetryMaxElapsed,
		now:             time.Now,
	}
	if s.retryMaxElapsed <= 0 {
		s.retryMaxElapsed = 30 * time.Second
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("init %s schema: %w", backend, err)
	}
	debug.Logf("sqlstore: opened %s backend", backend)
	return s, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", storage.SQLiteConnString(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func openMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(s.dialect.schema) {
		if _, err := s.execContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, truncateForError(stmt))
		}
	}
	return nil
}

// splitStatements splits a schema script on semicolons, dropping blanks.
func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func truncateForError(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// Close closes the database and any backend resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.db.Close()
	if s.closeExtra != nil {
		if cerr := s.closeExtra(); err == nil {
			err = cerr
		}
	}
	return err
}

// DB returns the underlying *sql.DB for advanced use.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Backend returns the dialect name.
func (s *Store) Backend() string {
	return s.dialect.name
}

func (s *Store) newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = s.retryMaxElapsed
	return bo
}

// isRetryableError returns true if the error is a transient connection or
// lock error that should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, frag := range []string{
		"driver: bad connection",
		"invalid connection",
		"broken pipe",
		"connection reset",
		"connection refused",
		"database is read only",
		"lost connection",
		"gone away",
		"i/o timeout",
		// sqlite writer contention
		"database is locked",
		"sqlite_busy",
	} {
		if strings.Contains(errStr, frag) {
			return true
		}
	}
	return false
}

// isUniqueViolation reports whether err is a unique or primary key violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "unique constraint failed") ||
		strings.Contains(errStr, "duplicate entry") ||
		strings.Contains(errStr, "error 1062") ||
		strings.Contains(errStr, "duplicate primary key") ||
		strings.Contains(errStr, "duplicate unique key")
}

// withRetry executes op, retrying transient errors with backoff.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			debug.Logf("sqlstore: retrying after transient error: %v", err)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(s.newRetryBackoff(), ctx))
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// queryContext retries only the query itself; rows iteration is the
// caller's responsibility.
func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.withRetry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// withTx runs fn in a transaction, retrying the whole unit on transient errors.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}
