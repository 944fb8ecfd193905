// Package sqlstore is the SQL ledger store. One implementation serves both
// SQLite (modernc, pure Go) and PostgreSQL (lib/pq); the differences are the
// placeholder style, row locking and how contention is reported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"finance/internal/core"
	"finance/internal/ledger"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	return string(d)
}

// Store implements ledger.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	read    *queries
}

var _ ledger.Store = (*Store)(nil)

// SQLiteDSN builds a DSN that enables foreign keys, waits on a locked
// database instead of failing at once, and takes the write lock when a
// transaction begins so read-modify-write units run one at a time.
func SQLiteDSN(path string) string {
	return "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate"
}

// OpenSQLite opens (creating if needed) a SQLite ledger at path and
// migrates it.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := SQLiteDSN(path)
	if err := RunMigrations(SQLite, dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open(SQLite.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.InfoContext(ctx, "SQLite ledger ready", "path", path)
	return New(db, SQLite), nil
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres backend")
	}
	if err := RunMigrations(Postgres, dsn); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open(Postgres.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	slog.InfoContext(ctx, "Postgres ledger ready")
	return New(db, Postgres), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		read:    &queries{db: db, dialect: dialect},
	}
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn inside a database transaction. Driver errors that signal
// contention (SQLite busy/locked, Postgres serialization failure or
// deadlock) are reported as ledger.ErrStale so the engine retries.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(fmt.Errorf("begin: %w", err))
	}

	q := &queries{db: tx, dialect: s.dialect, lock: s.dialect == Postgres}
	if err := fn(ctx, q); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.WarnContext(ctx, "Rollback failed", "error", rbErr)
		}
		return s.classify(err)
	}

	if err := tx.Commit(); err != nil {
		return s.classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) classify(err error) error {
	if err == nil || errors.Is(err, ledger.ErrStale) || !isContention(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrStale, err)
}

func isContention(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

func (s *Store) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	return s.read.GetBudget(ctx, id)
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	return s.read.GetTransaction(ctx, id)
}

func (s *Store) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	return s.read.ListBudgets(ctx, ownerID)
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	return s.read.ListTransactions(ctx, f)
}

func (s *Store) GetAttachment(ctx context.Context, id int64) (core.Attachment, error) {
	return s.read.GetAttachment(ctx, id)
}

func (s *Store) ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error) {
	return s.read.ListAttachments(ctx, transactionID)
}

func (s *Store) ListAttachmentsByOwner(ctx context.Context, ownerID int64) ([]core.Attachment, error) {
	return s.read.ListAttachmentsByOwner(ctx, ownerID)
}
