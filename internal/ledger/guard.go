package ledger

import (
	"context"
	"errors"
	"fmt"

	"finance/internal/core"
)

// AuthorizeBudget returns the budget when ownerID owns it. Absence and
// foreign ownership produce the same core.ErrNotFound error.
func AuthorizeBudget(ctx context.Context, l Lookup, ownerID, budgetID int64) (core.Budget, error) {
	if ownerID <= 0 || budgetID <= 0 {
		return core.Budget{}, budgetNotFound(budgetID)
	}
	b, err := l.GetBudget(ctx, budgetID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Budget{}, budgetNotFound(budgetID)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	if b.OwnerID != ownerID {
		return core.Budget{}, budgetNotFound(budgetID)
	}
	return b, nil
}

// AuthorizeTransaction resolves a transaction and its parent budget and
// checks that ownerID owns both.
func AuthorizeTransaction(ctx context.Context, l Lookup, ownerID, transactionID int64) (core.Transaction, core.Budget, error) {
	if ownerID <= 0 || transactionID <= 0 {
		return core.Transaction{}, core.Budget{}, transactionNotFound(transactionID)
	}
	t, err := l.GetTransaction(ctx, transactionID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Transaction{}, core.Budget{}, transactionNotFound(transactionID)
	}
	if err != nil {
		return core.Transaction{}, core.Budget{}, fmt.Errorf("get transaction: %w", err)
	}
	if t.OwnerID != ownerID {
		return core.Transaction{}, core.Budget{}, transactionNotFound(transactionID)
	}

	b, err := l.GetBudget(ctx, t.BudgetID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Transaction{}, core.Budget{}, transactionNotFound(transactionID)
	}
	if err != nil {
		return core.Transaction{}, core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	if b.OwnerID != ownerID {
		return core.Transaction{}, core.Budget{}, transactionNotFound(transactionID)
	}
	return t, b, nil
}

func budgetNotFound(id int64) error {
	return fmt.Errorf("budget %d: %w", id, core.ErrNotFound)
}

func transactionNotFound(id int64) error {
	return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
}
