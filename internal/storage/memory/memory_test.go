package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"finance/internal/core"
	"finance/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedBudget(t *testing.T, s *Store, owner int64) core.Budget {
	t.Helper()
	var b core.Budget
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		b, err = tx.InsertBudget(ctx, core.Budget{Name: "b", Type: "t", OwnerID: owner, Amount: decimal.NewFromInt(10)})
		return err
	})
	require.NoError(t, err)
	return b
}

func TestFailedUnitLeavesNoTrace(t *testing.T) {
	s := New()
	b := seedBudget(t, s, 1)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.InsertTransaction(ctx, core.Transaction{BudgetID: b.ID, OwnerID: 1, Amount: decimal.NewFromInt(1), Type: core.Entree}); err != nil {
			return err
		}
		b.Amount = decimal.NewFromInt(11)
		if _, err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetBudget(context.Background(), b.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, int64(1), got.Version)

	txns, err := s.ListTransactions(context.Background(), ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestUnitSeesOwnWrites(t *testing.T) {
	s := New()
	b := seedBudget(t, s, 1)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		txn, err := tx.InsertTransaction(ctx, core.Transaction{BudgetID: b.ID, OwnerID: 1, Amount: decimal.NewFromInt(1), Type: core.Entree})
		require.NoError(t, err)

		n, err := tx.CountTransactions(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		require.NoError(t, tx.DeleteTransaction(ctx, txn.ID))
		_, err = tx.GetTransaction(ctx, txn.ID)
		assert.ErrorIs(t, err, core.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestVersionCheck(t *testing.T) {
	s := New()
	b := seedBudget(t, s, 1)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		stale := b
		stale.Version = 99
		_, err := tx.UpdateBudget(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrStale)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		stale := b
		stale.Version = 99
		return tx.DeleteBudget(ctx, stale)
	})
	assert.ErrorIs(t, err, ledger.ErrStale)
}

func TestDeleteTransactionDropsAttachments(t *testing.T) {
	s := New()
	b := seedBudget(t, s, 1)

	var att core.Attachment
	var txn core.Transaction
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		txn, err = tx.InsertTransaction(ctx, core.Transaction{BudgetID: b.ID, OwnerID: 1, Amount: decimal.NewFromInt(1), Type: core.Entree})
		require.NoError(t, err)
		att, err = tx.InsertAttachment(ctx, core.Attachment{TransactionID: txn.ID, OwnerID: 1, StoredName: "x.png", CreatedAt: time.Now()})
		return err
	})
	require.NoError(t, err)

	got, err := s.GetAttachment(context.Background(), att.ID)
	require.NoError(t, err)
	assert.Equal(t, "x.png", got.StoredName)

	err = s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.DeleteTransaction(ctx, txn.ID)
	})
	require.NoError(t, err)

	_, err = s.GetAttachment(context.Background(), att.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCancelledContextRefusesUnit(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestListBudgetsScopedAndSorted(t *testing.T) {
	s := New()
	first := seedBudget(t, s, 1)
	seedBudget(t, s, 2)
	second := seedBudget(t, s, 1)

	list, err := s.ListBudgets(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}
