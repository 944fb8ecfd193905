package memory

import (
	"context"
	"sync"

	"finance/internal/amqp"
	"finance/internal/sheets"
)

// Mirror keeps mirrored rows in memory. It stands in for the Google adapter
// in tests and in local runs without spreadsheet credentials.
type Mirror struct {
	mu     sync.Mutex
	rows   [][]any
	events []amqp.LedgerEvent
}

var _ sheets.LedgerMirror = (*Mirror)(nil)

func New() *Mirror {
	return &Mirror{}
}

func (m *Mirror) AppendEvent(ctx context.Context, e *amqp.LedgerEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, sheets.EventRow(e))
	m.events = append(m.events, *e)
	return nil
}

// Rows returns a copy of the appended rows, oldest first.
func (m *Mirror) Rows() [][]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]any(nil), m.rows...)
}

// Events returns a copy of the appended events, oldest first.
func (m *Mirror) Events() []amqp.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]amqp.LedgerEvent(nil), m.events...)
}
