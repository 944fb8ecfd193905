package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"finance/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names the ledger mutation an event reports.
type EventKind string

const (
	EventRecorded  EventKind = "recorded"
	EventRevised   EventKind = "revised"
	EventRetracted EventKind = "retracted"
)

// LedgerEvent is published after a reconciliation commits. It carries the
// transaction as it stands after the change (or before, for a retraction)
// and the balance the budget was left with, so consumers never have to read
// the store.
type LedgerEvent struct {
	ID            string          `json:"id"`
	Kind          EventKind       `json:"kind"`
	TransactionID int64           `json:"transactionId"`
	BudgetID      int64           `json:"budgetId"`
	OwnerID       int64           `json:"ownerId"`
	Amount        decimal.Decimal `json:"amount"`
	Label         string          `json:"label"`
	Type          core.Kind       `json:"type"`
	Delta         decimal.Decimal `json:"delta"`
	Balance       decimal.Decimal `json:"balance"`
	At            time.Time       `json:"at"`
}

// NewLedgerEvent builds an event for a committed change. Each event gets a
// fresh id that consumers can use to drop redeliveries.
func NewLedgerEvent(kind EventKind, txn core.Transaction, budget core.Budget, delta decimal.Decimal) *LedgerEvent {
	return &LedgerEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		TransactionID: txn.ID,
		BudgetID:      budget.ID,
		OwnerID:       budget.OwnerID,
		Amount:        txn.Amount,
		Label:         txn.Label,
		Type:          txn.Type,
		Delta:         delta,
		Balance:       budget.Amount,
		At:            time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes and sanity-checks an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Kind {
	case EventRecorded, EventRevised, EventRetracted:
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.TransactionID == 0 || e.BudgetID == 0 {
		return nil, fmt.Errorf("event %s: missing transaction or budget id", e.ID)
	}
	return &e, nil
}
