// Package worker consumes ledger events and mirrors them into a spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"finance/internal/amqp"
	"finance/internal/cache"
	"finance/internal/log"
	"finance/internal/sheets"
)

const (
	dedupeWindow = 10000
	dedupeTTL    = 24 * time.Hour
)

// Consumer delivers ledger events until ctx ends. *amqp.Client implements it.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// Stats counts what the worker has done since it started.
type Stats struct {
	Mirrored   int64
	Duplicates int64
	Failures   int64
}

// MirrorWorker appends each ledger event to the mirror exactly once per
// event id within the dedupe window. Broker redeliveries of an event that
// was already mirrored are acknowledged without touching the sheet.
type MirrorWorker struct {
	mirror sheets.LedgerMirror
	seen   *cache.LRUCache[struct{}]
	logger *log.Logger

	mirrored   int64
	duplicates int64
	failures   int64
}

func NewMirrorWorker(mirror sheets.LedgerMirror, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &MirrorWorker{
		mirror: mirror,
		seen:   cache.NewLRUCache[struct{}](dedupeWindow, dedupeTTL),
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Register hands the dedupe cache to a cleanup manager.
func (w *MirrorWorker) Register(m *cache.Manager) {
	m.Register(w.seen)
}

// HandleLedgerEvent mirrors a single event. A returned error makes the
// consumer requeue the delivery.
func (w *MirrorWorker) HandleLedgerEvent(ctx context.Context, e *amqp.LedgerEvent) error {
	if e == nil {
		return errors.New("nil ledger event")
	}
	if e.ID != "" {
		if _, dup := w.seen.Get(e.ID); dup {
			atomic.AddInt64(&w.duplicates, 1)
			w.logger.DebugContext(ctx, "Skipping already mirrored event", "event_id", e.ID)
			return nil
		}
	}

	w.logger.InfoContext(ctx, "Processing ledger event",
		"event_id", e.ID,
		log.FieldKind, e.Kind,
		log.FieldTransactionID, e.TransactionID,
		log.FieldBudgetID, e.BudgetID)

	if err := w.mirror.AppendEvent(ctx, e); err != nil {
		atomic.AddInt64(&w.failures, 1)
		return fmt.Errorf("mirror event %s: %w", e.ID, err)
	}

	if e.ID != "" {
		w.seen.Set(e.ID, struct{}{})
	}
	atomic.AddInt64(&w.mirrored, 1)
	return nil
}

// Run consumes events until ctx is cancelled. Cancellation is a clean stop.
func (w *MirrorWorker) Run(ctx context.Context, consumer Consumer) error {
	w.logger.InfoContext(ctx, "Mirror worker started")
	err := consumer.ConsumeLedgerEvents(ctx, w.HandleLedgerEvent)
	s := w.Stats()
	w.logger.InfoContext(ctx, "Mirror worker stopped",
		"mirrored", s.Mirrored,
		"duplicates", s.Duplicates,
		"failures", s.Failures)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{
		Mirrored:   atomic.LoadInt64(&w.mirrored),
		Duplicates: atomic.LoadInt64(&w.duplicates),
		Failures:   atomic.LoadInt64(&w.failures),
	}
}
