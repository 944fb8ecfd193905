package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"finance/internal/amqp"
	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/log"

	"github.com/shopspring/decimal"
)

// EventPublisher ships committed ledger events. *amqp.Client implements it.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// StatsInvalidator drops derived data for an owner after a write.
type StatsInvalidator interface {
	Invalidate(ownerID int64)
}

// BlobPurger removes attachment bytes whose rows the ledger already deleted.
type BlobPurger interface {
	Purge(ctx context.Context, removed []core.Attachment) int
}

// LedgerService runs ledger mutations through the engine and, once they have
// committed, fans out the side effects: event publication, stats
// invalidation and blob cleanup. None of those can fail the request; the
// ledger state is already durable by then.
type LedgerService struct {
	engine    *ledger.Engine
	publisher EventPublisher
	stats     StatsInvalidator
	purger    BlobPurger
	logger    *log.Logger
}

type Option func(*LedgerService)

func WithPublisher(p EventPublisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithStats(st StatsInvalidator) Option {
	return func(s *LedgerService) { s.stats = st }
}

func WithPurger(p BlobPurger) Option {
	return func(s *LedgerService) { s.purger = p }
}

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) {
		if l != nil {
			s.logger = l.WithComponent(log.ComponentLedger)
		}
	}
}

func NewLedgerService(engine *ledger.Engine, opts ...Option) *LedgerService {
	s := &LedgerService{
		engine: engine,
		logger: log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record saves the transaction and publishes a recorded event.
func (s *LedgerService) Record(ctx context.Context, req core.RecordRequest) (ledger.Result, error) {
	res, err := s.engine.Record(ctx, req)
	if err != nil {
		return ledger.Result{}, err
	}
	s.afterCommit(ctx, amqp.EventRecorded, res)
	return res, nil
}

func (s *LedgerService) Revise(ctx context.Context, req core.ReviseRequest) (ledger.Result, error) {
	res, err := s.engine.Revise(ctx, req)
	if err != nil {
		return ledger.Result{}, err
	}
	s.afterCommit(ctx, amqp.EventRevised, res)
	return res, nil
}

// Retract deletes the transaction; its attachment blobs are purged after the
// commit.
func (s *LedgerService) Retract(ctx context.Context, req core.RetractRequest) (ledger.Result, error) {
	res, err := s.engine.Retract(ctx, req)
	if err != nil {
		return ledger.Result{}, err
	}
	s.afterCommit(ctx, amqp.EventRetracted, res)
	s.purge(ctx, res.Attachments)
	return res, nil
}

func (s *LedgerService) OpenBudget(ctx context.Context, nb core.NewBudget) (core.Budget, error) {
	b, err := s.engine.OpenBudget(ctx, nb)
	if err != nil {
		return core.Budget{}, err
	}
	s.invalidate(b.OwnerID)
	return b, nil
}

func (s *LedgerService) AmendBudget(ctx context.Context, p core.BudgetPatch) (core.Budget, error) {
	b, err := s.engine.AmendBudget(ctx, p)
	if err != nil {
		return core.Budget{}, err
	}
	s.invalidate(b.OwnerID)
	return b, nil
}

func (s *LedgerService) CloseBudget(ctx context.Context, req core.CloseBudgetRequest) (ledger.CloseResult, error) {
	res, err := s.engine.CloseBudget(ctx, req)
	if err != nil {
		return ledger.CloseResult{}, err
	}
	s.invalidate(res.Budget.OwnerID)
	s.purge(ctx, res.Attachments)
	return res, nil
}

func (s *LedgerService) Audit(ctx context.Context, ownerID, budgetID int64) (core.AuditReport, error) {
	return s.engine.Audit(ctx, ownerID, budgetID)
}

func (s *LedgerService) GetBudget(ctx context.Context, ownerID, budgetID int64) (core.Budget, error) {
	return s.engine.GetBudget(ctx, ownerID, budgetID)
}

func (s *LedgerService) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	return s.engine.ListBudgets(ctx, ownerID)
}

func (s *LedgerService) GetTransaction(ctx context.Context, ownerID, transactionID int64) (core.Transaction, error) {
	return s.engine.GetTransaction(ctx, ownerID, transactionID)
}

func (s *LedgerService) ListTransactions(ctx context.Context, ownerID int64, f ledger.TransactionFilter) ([]core.Transaction, error) {
	return s.engine.ListTransactions(ctx, ownerID, f)
}

// Ping reports whether the ledger store is reachable.
func (s *LedgerService) Ping(ctx context.Context) error {
	return s.engine.Store().Ping(ctx)
}

func (s *LedgerService) afterCommit(ctx context.Context, kind amqp.EventKind, res ledger.Result) {
	s.invalidate(res.Budget.OwnerID)
	if err := s.publish(ctx, kind, res.Transaction, res.Budget, res.Delta); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish ledger event",
			log.FieldError, err,
			log.FieldKind, kind,
			log.FieldTransactionID, res.Transaction.ID,
			log.FieldBudgetID, res.Budget.ID)
		// Don't fail the request - the ledger change is committed
	}
}

func (s *LedgerService) publish(ctx context.Context, kind amqp.EventKind, txn core.Transaction, b core.Budget, delta decimal.Decimal) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No event publisher configured, skipping ledger event")
		return nil
	}
	// publication outlives a request that was cancelled after the commit
	return s.publisher.PublishLedgerEvent(context.WithoutCancel(ctx), amqp.NewLedgerEvent(kind, txn, b, delta))
}

func (s *LedgerService) invalidate(ownerID int64) {
	if s.stats != nil {
		s.stats.Invalidate(ownerID)
	}
}

func (s *LedgerService) purge(ctx context.Context, removed []core.Attachment) {
	if s.purger == nil || len(removed) == 0 {
		return
	}
	n := s.purger.Purge(ctx, removed)
	s.logger.DebugContext(ctx, "Purged attachment blobs", "removed", n, "requested", len(removed))
}

// Close closes the store and, when it holds a connection, the publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if s.engine != nil {
		if err := s.engine.Store().Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}
