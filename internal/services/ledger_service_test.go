package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"finance/internal/amqp"
	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
	closed bool
}

func (p *fakePublisher) PublishLedgerEvent(ctx context.Context, event *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

type fakeStats struct{ invalidated []int64 }

func (s *fakeStats) Invalidate(ownerID int64) { s.invalidated = append(s.invalidated, ownerID) }

type fakePurger struct{ purged []core.Attachment }

func (p *fakePurger) Purge(ctx context.Context, removed []core.Attachment) int {
	p.purged = append(p.purged, removed...)
	return len(removed)
}

type harness struct {
	svc       *LedgerService
	store     *memory.Store
	publisher *fakePublisher
	stats     *fakeStats
	purger    *fakePurger
	budget    core.Budget
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		store:     memory.New(),
		publisher: &fakePublisher{},
		stats:     &fakeStats{},
		purger:    &fakePurger{},
	}
	h.svc = NewLedgerService(ledger.NewEngine(h.store),
		WithPublisher(h.publisher),
		WithStats(h.stats),
		WithPurger(h.purger))

	b, err := h.svc.OpenBudget(context.Background(), core.NewBudget{
		OwnerID: 1, Name: "Groceries", Amount: decimal.NewFromInt(500), Type: "monthly",
	})
	require.NoError(t, err)
	h.budget = b
	return h
}

func (h harness) record(t *testing.T, amount int64, kind core.Kind) ledger.Result {
	t.Helper()
	res, err := h.svc.Record(context.Background(), core.RecordRequest{
		BudgetID: h.budget.ID, OwnerID: 1, Amount: decimal.NewFromInt(amount), Label: "item", Type: kind,
	})
	require.NoError(t, err)
	return res
}

func TestLedgerService_PublishesAfterCommit(t *testing.T) {
	h := newHarness(t)

	rec := h.record(t, 100, core.Entree)
	amount := decimal.NewFromInt(30)
	sortie := core.Sortie
	_, err := h.svc.Revise(context.Background(), core.ReviseRequest{
		TransactionID: rec.Transaction.ID, OwnerID: 1, Amount: &amount, Type: &sortie,
	})
	require.NoError(t, err)
	_, err = h.svc.Retract(context.Background(), core.RetractRequest{TransactionID: rec.Transaction.ID, OwnerID: 1})
	require.NoError(t, err)

	require.Len(t, h.publisher.events, 3)
	kinds := []amqp.EventKind{h.publisher.events[0].Kind, h.publisher.events[1].Kind, h.publisher.events[2].Kind}
	assert.Equal(t, []amqp.EventKind{amqp.EventRecorded, amqp.EventRevised, amqp.EventRetracted}, kinds)

	assert.True(t, h.publisher.events[0].Balance.Equal(decimal.NewFromInt(600)))
	assert.True(t, h.publisher.events[1].Delta.Equal(decimal.NewFromInt(-130)))
	assert.True(t, h.publisher.events[2].Delta.Equal(decimal.NewFromInt(30)))
	assert.True(t, h.publisher.events[2].Balance.Equal(decimal.NewFromInt(500)))
	for _, e := range h.publisher.events {
		assert.Equal(t, int64(1), e.OwnerID)
		assert.Equal(t, h.budget.ID, e.BudgetID)
	}
}

func TestLedgerService_PublishFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")

	res := h.record(t, 50, core.Sortie)
	assert.True(t, res.Budget.Amount.Equal(decimal.NewFromInt(450)))

	b, err := h.svc.GetBudget(context.Background(), 1, h.budget.ID)
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(decimal.NewFromInt(450)))
}

func TestLedgerService_FailedMutationHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.stats.invalidated = nil

	_, err := h.svc.Record(context.Background(), core.RecordRequest{
		BudgetID: h.budget.ID, OwnerID: 2, Amount: decimal.NewFromInt(10), Label: "x", Type: core.Entree,
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, h.publisher.events)
	assert.Empty(t, h.stats.invalidated)
}

func TestLedgerService_InvalidatesStats(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []int64{1}, h.stats.invalidated, "opening a budget")

	h.record(t, 10, core.Entree)
	name := "Food"
	_, err := h.svc.AmendBudget(context.Background(), core.BudgetPatch{BudgetID: h.budget.ID, OwnerID: 1, Name: &name})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 1, 1}, h.stats.invalidated)
}

func TestLedgerService_PurgesAttachmentsOnRetractAndClose(t *testing.T) {
	h := newHarness(t)
	first := h.record(t, 10, core.Sortie)
	second := h.record(t, 20, core.Sortie)

	err := h.store.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		for _, txnID := range []int64{first.Transaction.ID, second.Transaction.ID} {
			if _, err := tx.InsertAttachment(ctx, core.Attachment{TransactionID: txnID, OwnerID: 1, StoredName: "blob.png"}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	_, err = h.svc.Retract(context.Background(), core.RetractRequest{TransactionID: first.Transaction.ID, OwnerID: 1})
	require.NoError(t, err)
	assert.Len(t, h.purger.purged, 1)

	_, err = h.svc.CloseBudget(context.Background(), core.CloseBudgetRequest{BudgetID: h.budget.ID, OwnerID: 1})
	assert.ErrorIs(t, err, core.ErrBudgetInUse)

	res, err := h.svc.CloseBudget(context.Background(), core.CloseBudgetRequest{BudgetID: h.budget.ID, OwnerID: 1, Cascade: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Transactions)
	assert.Len(t, h.purger.purged, 2)
}

func TestLedgerService_WithoutCollaborators(t *testing.T) {
	svc := NewLedgerService(ledger.NewEngine(memory.New()))

	b, err := svc.OpenBudget(context.Background(), core.NewBudget{OwnerID: 3, Name: "Solo", Amount: decimal.NewFromInt(1), Type: "once"})
	require.NoError(t, err)
	_, err = svc.Record(context.Background(), core.RecordRequest{BudgetID: b.ID, OwnerID: 3, Amount: decimal.NewFromInt(1), Label: "x", Type: core.Sortie})
	require.NoError(t, err)
	assert.NoError(t, svc.Ping(context.Background()))
	assert.NoError(t, svc.Close())
}

func TestLedgerService_Close(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.svc.Close())
	assert.True(t, h.publisher.closed)
}
