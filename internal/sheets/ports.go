// Package sheets defines the outbound port for mirroring the ledger into a
// spreadsheet and the row layout shared by its adapters.
package sheets

import (
	"context"
	"time"

	"finance/internal/amqp"
	"finance/internal/core"
)

// LedgerMirror appends one row per ledger event. Implementations must be
// safe for concurrent use.
type LedgerMirror interface {
	AppendEvent(ctx context.Context, event *amqp.LedgerEvent) error
}

// Header is the first row of a mirror sheet.
var Header = []any{
	"At", "Event", "Kind", "Owner", "Budget", "Transaction",
	"Type", "Label", "Amount", "Delta", "Balance",
}

// Columns is the A1 column span covered by Header.
const Columns = "A:K"

// EventRow lays an event out in Header order. Amounts are fixed two-decimal
// strings so the sheet parses them without float rounding.
func EventRow(e *amqp.LedgerEvent) []any {
	return []any{
		e.At.UTC().Format(time.RFC3339),
		e.ID,
		string(e.Kind),
		e.OwnerID,
		e.BudgetID,
		e.TransactionID,
		string(e.Type),
		e.Label,
		core.FormatAmount(e.Amount),
		core.FormatAmount(e.Delta),
		core.FormatAmount(e.Balance),
	}
}
