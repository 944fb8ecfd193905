package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"finance/internal/core"
	"finance/internal/log"

	"github.com/shopspring/decimal"
)

// DefaultMaxRetries is the number of attempts made on a unit of work before
// giving up with core.ErrConflict.
const DefaultMaxRetries = 5

// Result is the committed outcome of a reconciliation.
type Result struct {
	Transaction core.Transaction
	Budget      core.Budget
	// Delta is the change applied to Budget.Amount.
	Delta decimal.Decimal
	// Attachments lists attachment rows removed along with the transaction.
	Attachments []core.Attachment
}

// CloseResult describes a deleted budget.
type CloseResult struct {
	Budget       core.Budget
	Transactions int
	Attachments  []core.Attachment
}

// Engine applies ledger mutations against a Store.
type Engine struct {
	store      Store
	maxRetries int
	backoff    time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxRetries bounds the attempts per operation. Values below one are
// ignored.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoff sets the base pause between attempts.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.backoff = d
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.WithComponent(log.ComponentLedger)
		}
	}
}

// WithClock overrides the time source used for new records.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		maxRetries: DefaultMaxRetries,
		backoff:    2 * time.Millisecond,
		logger:     log.Discard(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() Store {
	return e.store
}

// Record creates a transaction and moves its budget's balance by s(t).
func (e *Engine) Record(ctx context.Context, req core.RecordRequest) (Result, error) {
	req.Label = strings.TrimSpace(req.Label)
	req.Amount = core.NormalizeAmount(req.Amount)
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.reconcile(ctx, log.OpRecord, func(ctx context.Context, tx Tx) error {
		b, err := AuthorizeBudget(ctx, tx, req.OwnerID, req.BudgetID)
		if err != nil {
			return err
		}

		date := req.Date
		if date.IsZero() {
			date = e.now()
		}
		t, err := tx.InsertTransaction(ctx, core.Transaction{
			BudgetID: b.ID,
			OwnerID:  b.OwnerID,
			Amount:   req.Amount,
			Label:    req.Label,
			Type:     req.Type,
			Date:     date,
		})
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		delta := t.Signed()
		b.Amount = b.Amount.Add(delta)
		if b, err = tx.UpdateBudget(ctx, b); err != nil {
			return fmt.Errorf("update budget: %w", err)
		}

		res = Result{Transaction: t, Budget: b, Delta: delta}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.logCommitted(ctx, log.OpRecord, res)
	return res, nil
}

// Revise merges the supplied fields into a transaction and moves the
// budget's balance by s(new) - s(old).
func (e *Engine) Revise(ctx context.Context, req core.ReviseRequest) (Result, error) {
	if req.Amount != nil {
		a := core.NormalizeAmount(*req.Amount)
		req.Amount = &a
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.reconcile(ctx, log.OpRevise, func(ctx context.Context, tx Tx) error {
		old, b, err := AuthorizeTransaction(ctx, tx, req.OwnerID, req.TransactionID)
		if err != nil {
			return err
		}

		updated := old.Merge(req)
		delta := updated.Signed().Sub(old.Signed())

		if !req.Empty() {
			if err := tx.UpdateTransaction(ctx, updated); err != nil {
				return fmt.Errorf("update transaction: %w", err)
			}
		}
		if !delta.IsZero() {
			b.Amount = b.Amount.Add(delta)
			if b, err = tx.UpdateBudget(ctx, b); err != nil {
				return fmt.Errorf("update budget: %w", err)
			}
		}

		res = Result{Transaction: updated, Budget: b, Delta: delta}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.logCommitted(ctx, log.OpRevise, res)
	return res, nil
}

// Retract deletes a transaction and reverses its effect on the balance.
func (e *Engine) Retract(ctx context.Context, req core.RetractRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.reconcile(ctx, log.OpRetract, func(ctx context.Context, tx Tx) error {
		old, b, err := AuthorizeTransaction(ctx, tx, req.OwnerID, req.TransactionID)
		if err != nil {
			return err
		}

		attachments, err := tx.ListAttachments(ctx, old.ID)
		if err != nil {
			return fmt.Errorf("list attachments: %w", err)
		}
		if err := tx.DeleteTransaction(ctx, old.ID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}

		delta := old.Signed().Neg()
		b.Amount = b.Amount.Add(delta)
		if b, err = tx.UpdateBudget(ctx, b); err != nil {
			return fmt.Errorf("update budget: %w", err)
		}

		res = Result{Transaction: old, Budget: b, Delta: delta, Attachments: attachments}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.logCommitted(ctx, log.OpRetract, res)
	return res, nil
}

// OpenBudget creates a budget whose opening amount is also its balance.
func (e *Engine) OpenBudget(ctx context.Context, nb core.NewBudget) (core.Budget, error) {
	nb.Name = strings.TrimSpace(nb.Name)
	nb.Type = strings.TrimSpace(nb.Type)
	if err := nb.Validate(); err != nil {
		return core.Budget{}, err
	}
	if nb.OwnerID <= 0 {
		return core.Budget{}, fmt.Errorf("open budget: %w", core.ErrNotFound)
	}

	amount := core.NormalizeAmount(nb.Amount)
	var out core.Budget
	err := e.reconcile(ctx, log.OpOpen, func(ctx context.Context, tx Tx) error {
		b, err := tx.InsertBudget(ctx, core.Budget{
			Name:        nb.Name,
			Amount:      amount,
			Opening:     amount,
			Type:        nb.Type,
			Description: trimmed(nb.Description),
			OwnerID:     nb.OwnerID,
			CreatedAt:   e.now(),
		})
		if err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		out = b
		return nil
	})
	if err != nil {
		return core.Budget{}, err
	}

	e.logger.DebugContext(ctx, "Budget opened",
		log.FieldOwnerID, out.OwnerID,
		log.FieldBudgetID, out.ID,
		log.FieldBalance, out.Amount.String())
	return out, nil
}

// AmendBudget changes budget metadata. Supplying an amount rebases the
// balance; the opening amount moves with it so existing transactions still
// reconcile.
func (e *Engine) AmendBudget(ctx context.Context, p core.BudgetPatch) (core.Budget, error) {
	if p.Amount != nil {
		a := core.NormalizeAmount(*p.Amount)
		p.Amount = &a
	}
	if err := p.Validate(); err != nil {
		return core.Budget{}, err
	}

	var out core.Budget
	err := e.reconcile(ctx, log.OpAmend, func(ctx context.Context, tx Tx) error {
		b, err := AuthorizeBudget(ctx, tx, p.OwnerID, p.BudgetID)
		if err != nil {
			return err
		}
		if out, err = tx.UpdateBudget(ctx, b.Apply(p)); err != nil {
			return fmt.Errorf("update budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Budget{}, err
	}
	return out, nil
}

// CloseBudget deletes a budget. A budget that still has transactions is
// only deleted when Cascade is set, in which case its transactions and their
// attachment rows go in the same unit.
func (e *Engine) CloseBudget(ctx context.Context, req core.CloseBudgetRequest) (CloseResult, error) {
	var res CloseResult
	err := e.reconcile(ctx, log.OpClose, func(ctx context.Context, tx Tx) error {
		b, err := AuthorizeBudget(ctx, tx, req.OwnerID, req.BudgetID)
		if err != nil {
			return err
		}

		n, err := tx.CountTransactions(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("count transactions: %w", err)
		}
		if n > 0 && !req.Cascade {
			return fmt.Errorf("budget %d has %d transactions: %w", b.ID, n, core.ErrBudgetInUse)
		}

		var attachments []core.Attachment
		if n > 0 {
			if attachments, err = tx.ListAttachmentsByBudget(ctx, b.ID); err != nil {
				return fmt.Errorf("list attachments: %w", err)
			}
			if _, err := tx.DeleteTransactionsByBudget(ctx, b.ID); err != nil {
				return fmt.Errorf("delete transactions: %w", err)
			}
		}
		if err := tx.DeleteBudget(ctx, b); err != nil {
			return fmt.Errorf("delete budget: %w", err)
		}

		res = CloseResult{Budget: b, Transactions: n, Attachments: attachments}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	return res, nil
}

// Audit recomputes a budget's balance from its opening amount and current
// transactions, inside a single unit so both sides see the same snapshot.
func (e *Engine) Audit(ctx context.Context, ownerID, budgetID int64) (core.AuditReport, error) {
	var report core.AuditReport
	err := e.reconcile(ctx, log.OpAudit, func(ctx context.Context, tx Tx) error {
		b, err := AuthorizeBudget(ctx, tx, ownerID, budgetID)
		if err != nil {
			return err
		}
		txns, err := tx.ListTransactions(ctx, TransactionFilter{BudgetID: b.ID})
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		report = core.NewAuditReport(b, txns)
		return nil
	})
	if err != nil {
		return core.AuditReport{}, err
	}
	if !report.Consistent {
		e.logger.WarnContext(ctx, "Budget balance drift detected",
			log.FieldBudgetID, budgetID,
			log.FieldBalance, report.Balance.String(),
			"expected", report.Expected.String())
	}
	return report, nil
}

// GetBudget returns an owned budget.
func (e *Engine) GetBudget(ctx context.Context, ownerID, budgetID int64) (core.Budget, error) {
	return AuthorizeBudget(ctx, e.store, ownerID, budgetID)
}

// GetTransaction returns an owned transaction.
func (e *Engine) GetTransaction(ctx context.Context, ownerID, transactionID int64) (core.Transaction, error) {
	t, _, err := AuthorizeTransaction(ctx, e.store, ownerID, transactionID)
	return t, err
}

func (e *Engine) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	budgets, err := e.store.ListBudgets(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// ListTransactions returns the owner's transactions matching f. Filtering by
// a budget the owner does not hold is a NotFound, like any other read.
func (e *Engine) ListTransactions(ctx context.Context, ownerID int64, f TransactionFilter) ([]core.Transaction, error) {
	if f.BudgetID != 0 {
		if _, err := AuthorizeBudget(ctx, e.store, ownerID, f.BudgetID); err != nil {
			return nil, err
		}
	}
	f.OwnerID = ownerID
	txns, err := e.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// reconcile runs fn in a unit of work, retrying while the store reports
// ErrStale. After maxRetries attempts it gives up with core.ErrConflict.
func (e *Engine) reconcile(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		err := e.store.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrStale) {
			return err
		}

		e.logger.DebugContext(ctx, "Reconciliation attempt lost a race",
			log.FieldOperation, op,
			log.FieldAttempt, attempt,
			log.FieldError, err)

		if attempt == e.maxRetries {
			break
		}
		if err := e.pause(ctx, attempt); err != nil {
			return err
		}
	}

	e.logger.WarnContext(ctx, "Reconciliation retry budget exhausted",
		log.FieldOperation, op,
		log.FieldAttempt, e.maxRetries,
		log.FieldErrorType, log.ErrorTypeConflict)
	return fmt.Errorf("%s: %w", op, core.ErrConflict)
}

func (e *Engine) pause(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	d := e.backoff * time.Duration(attempt)
	d += time.Duration(rand.Int64N(int64(e.backoff) + 1))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) logCommitted(ctx context.Context, op string, res Result) {
	fields := log.NewFields().
		WithOperation(op).
		WithLedger(res.Transaction.OwnerID, res.Budget.ID, res.Transaction.ID).
		WithDelta(res.Delta, res.Budget.Amount)
	e.logger.DebugContext(ctx, "Reconciliation committed", fields.ToSlice()...)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
