package core

import "github.com/shopspring/decimal"

// AuditReport compares a stored balance with the one recomputed from the
// opening amount and the current transaction set.
type AuditReport struct {
	BudgetID     int64           `json:"budgetId"`
	Balance      decimal.Decimal `json:"balance"`
	Opening      decimal.Decimal `json:"opening"`
	SignedSum    decimal.Decimal `json:"signedSum"`
	Expected     decimal.Decimal `json:"expected"`
	Drift        decimal.Decimal `json:"drift"`
	Transactions int             `json:"transactions"`
	Consistent   bool            `json:"consistent"`
}

// NewAuditReport computes drift for one budget.
func NewAuditReport(b Budget, txns []Transaction) AuditReport {
	sum := decimal.Zero
	for _, t := range txns {
		sum = sum.Add(t.Signed())
	}
	expected := b.Opening.Add(sum)
	drift := b.Amount.Sub(expected)
	return AuditReport{
		BudgetID:     b.ID,
		Balance:      b.Amount,
		Opening:      b.Opening,
		SignedSum:    sum,
		Expected:     expected,
		Drift:        drift,
		Transactions: len(txns),
		Consistent:   drift.IsZero(),
	}
}

// NamedAmount is an amount aggregated under a label.
type NamedAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// BudgetStats summarizes an owner's budgets.
type BudgetStats struct {
	Count        int             `json:"count"`
	TotalBalance decimal.Decimal `json:"totalBalance"`
	ByType       []NamedAmount   `json:"byType"`
	Top          []Budget        `json:"top"`
}

// TransactionStats summarizes an owner's transactions.
type TransactionStats struct {
	Count    int             `json:"count"`
	Entrees  decimal.Decimal `json:"entrees"`
	Sorties  decimal.Decimal `json:"sorties"`
	Net      decimal.Decimal `json:"net"`
	ByBudget []NamedAmount   `json:"byBudget"`
	Top      []Transaction   `json:"top"`
}

// TransactionFiles counts the attachments bound to one transaction.
type TransactionFiles struct {
	TransactionID int64 `json:"transactionId"`
	Count         int   `json:"count"`
}

// FileStats summarizes an owner's attachments.
type FileStats struct {
	Count         int                `json:"count"`
	TotalBytes    int64              `json:"totalBytes"`
	ByTransaction []TransactionFiles `json:"byTransaction"`
}

// MonthTotals aggregates the transactions dated in one calendar month.
type MonthTotals struct {
	Month   string          `json:"month"` // YYYY-MM, UTC
	Count   int             `json:"count"`
	Entrees decimal.Decimal `json:"entrees"`
	Sorties decimal.Decimal `json:"sorties"`
	Net     decimal.Decimal `json:"net"`
}

// TemporalStats is an owner's transaction activity grouped by month, oldest
// first.
type TemporalStats struct {
	Months []MonthTotals `json:"months"`
}
