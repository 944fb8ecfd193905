// Package ledger implements balance reconciliation: the only code path
// allowed to change a budget's balance, and the only way transactions are
// recorded, revised or retracted.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"finance/internal/core"

	"github.com/shopspring/decimal"
)

// ErrStale is returned by a Tx when the budget row it tries to write no
// longer carries the version it read, or when the database aborted the unit
// because of contention. The engine retries on it.
var ErrStale = errors.New("stale budget version")

// TransactionFilter narrows ListTransactions. Zero values mean "any".
type TransactionFilter struct {
	OwnerID   int64
	BudgetID  int64
	Type      core.Kind
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	Label     string
	From      time.Time
	To        time.Time
	Limit     int
}

// Match reports whether t passes the filter. Stores that cannot push a
// predicate down use it to filter in memory.
func (f TransactionFilter) Match(t core.Transaction) bool {
	if f.OwnerID != 0 && t.OwnerID != f.OwnerID {
		return false
	}
	if f.BudgetID != 0 && t.BudgetID != f.BudgetID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.MinAmount != nil && t.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && t.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	if f.Label != "" && !containsFold(t.Label, f.Label) {
		return false
	}
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.Date.After(f.To) {
		return false
	}
	return true
}

// Lookup is the read surface the ownership guard needs. Both Reader and Tx
// satisfy it, so authorization can run inside or outside a unit of work.
type Lookup interface {
	// GetBudget returns core.ErrNotFound when no row exists.
	GetBudget(ctx context.Context, id int64) (core.Budget, error)
	// GetTransaction returns core.ErrNotFound when no row exists.
	GetTransaction(ctx context.Context, id int64) (core.Transaction, error)
}

// Reader serves committed state to the guard and to read-only consumers.
type Reader interface {
	Lookup
	ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	GetAttachment(ctx context.Context, id int64) (core.Attachment, error)
	ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error)
	ListAttachmentsByOwner(ctx context.Context, ownerID int64) ([]core.Attachment, error)
}

// Tx is one atomic unit of work. Everything written through it commits
// together or not at all.
type Tx interface {
	Lookup
	ListTransactions(ctx context.Context, f TransactionFilter) ([]core.Transaction, error)
	CountTransactions(ctx context.Context, budgetID int64) (int, error)

	InsertBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	// UpdateBudget writes b only if the stored row still has b.Version and
	// returns the row with its new version. A mismatch yields ErrStale.
	UpdateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	// DeleteBudget has the same version check as UpdateBudget.
	DeleteBudget(ctx context.Context, b core.Budget) error

	InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	// DeleteTransaction also removes the transaction's attachment rows.
	DeleteTransaction(ctx context.Context, id int64) error
	DeleteTransactionsByBudget(ctx context.Context, budgetID int64) (int, error)

	// GetAttachment returns core.ErrNotFound when no row exists.
	GetAttachment(ctx context.Context, id int64) (core.Attachment, error)
	InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error)
	DeleteAttachment(ctx context.Context, id int64) error
	ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error)
	ListAttachmentsByBudget(ctx context.Context, budgetID int64) ([]core.Attachment, error)
}

// Store is a ledger backend.
type Store interface {
	Reader
	// WithinTx runs fn in a single atomic unit. The unit commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
