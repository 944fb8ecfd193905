// Package memory is an in-process ledger store. Units of work are
// serialized by a single writer lock and staged in an overlay that is only
// folded into the committed maps when the unit succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"finance/internal/core"
	"finance/internal/ledger"
)

type state struct {
	budgets      map[int64]core.Budget
	transactions map[int64]core.Transaction
	attachments  map[int64]core.Attachment
	nextBudget   int64
	nextTxn      int64
	nextAttach   int64
}

// Store keeps the ledger in memory.
type Store struct {
	writeMu sync.Mutex   // held for the whole unit of work
	mu      sync.RWMutex // guards st
	st      state
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: state{
		budgets:      make(map[int64]core.Budget),
		transactions: make(map[int64]core.Transaction),
		attachments:  make(map[int64]core.Attachment),
	}}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.budgets[id]
	if !ok {
		return core.Budget{}, core.ErrNotFound
	}
	return b, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.st.transactions[id]
	if !ok {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Budget, 0)
	for _, b := range s.st.budgets {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterTransactions(s.st.transactions, nil, f), nil
}

func (s *Store) GetAttachment(ctx context.Context, id int64) (core.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.attachments[id]
	if !ok {
		return core.Attachment{}, core.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterAttachments(s.st.attachments, nil, func(a core.Attachment) bool {
		return a.TransactionID == transactionID
	}), nil
}

func (s *Store) ListAttachmentsByOwner(ctx context.Context, ownerID int64) ([]core.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterAttachments(s.st.attachments, nil, func(a core.Attachment) bool {
		return a.OwnerID == ownerID
	}), nil
}

// WithinTx serializes units of work. Writes go to an overlay and are applied
// under the state lock only when fn returns nil, so readers never observe a
// half-applied unit.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	tx := &memTx{
		base:         &s.st,
		budgets:      make(map[int64]*core.Budget),
		transactions: make(map[int64]*core.Transaction),
		attachments:  make(map[int64]*core.Attachment),
		nextBudget:   s.st.nextBudget,
		nextTxn:      s.st.nextTxn,
		nextAttach:   s.st.nextAttach,
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx.commit(&s.st)
	return nil
}

// memTx reads through to the committed state. A nil pointer in an overlay
// map marks a deletion. Only the goroutine holding writeMu mutates the base
// maps, so reading them here without mu is safe.
type memTx struct {
	base         *state
	budgets      map[int64]*core.Budget
	transactions map[int64]*core.Transaction
	attachments  map[int64]*core.Attachment
	nextBudget   int64
	nextTxn      int64
	nextAttach   int64
}

func (tx *memTx) commit(st *state) {
	for id, b := range tx.budgets {
		if b == nil {
			delete(st.budgets, id)
		} else {
			st.budgets[id] = *b
		}
	}
	for id, t := range tx.transactions {
		if t == nil {
			delete(st.transactions, id)
		} else {
			st.transactions[id] = *t
		}
	}
	for id, a := range tx.attachments {
		if a == nil {
			delete(st.attachments, id)
		} else {
			st.attachments[id] = *a
		}
	}
	st.nextBudget = tx.nextBudget
	st.nextTxn = tx.nextTxn
	st.nextAttach = tx.nextAttach
}

func (tx *memTx) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	if b, staged := tx.budgets[id]; staged {
		if b == nil {
			return core.Budget{}, core.ErrNotFound
		}
		return *b, nil
	}
	b, ok := tx.base.budgets[id]
	if !ok {
		return core.Budget{}, core.ErrNotFound
	}
	return b, nil
}

func (tx *memTx) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	if t, staged := tx.transactions[id]; staged {
		if t == nil {
			return core.Transaction{}, core.ErrNotFound
		}
		return *t, nil
	}
	t, ok := tx.base.transactions[id]
	if !ok {
		return core.Transaction{}, core.ErrNotFound
	}
	return t, nil
}

func (tx *memTx) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	return filterTransactions(tx.base.transactions, tx.transactions, f), nil
}

func (tx *memTx) CountTransactions(ctx context.Context, budgetID int64) (int, error) {
	txns := filterTransactions(tx.base.transactions, tx.transactions, ledger.TransactionFilter{BudgetID: budgetID})
	return len(txns), nil
}

func (tx *memTx) InsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	tx.nextBudget++
	b.ID = tx.nextBudget
	b.Version = 1
	tx.budgets[b.ID] = &b
	return b, nil
}

func (tx *memTx) UpdateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	cur, err := tx.GetBudget(ctx, b.ID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("budget %d: %w", b.ID, err)
	}
	if cur.Version != b.Version {
		return core.Budget{}, ledger.ErrStale
	}
	b.Version++
	tx.budgets[b.ID] = &b
	return b, nil
}

func (tx *memTx) DeleteBudget(ctx context.Context, b core.Budget) error {
	cur, err := tx.GetBudget(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("budget %d: %w", b.ID, err)
	}
	if cur.Version != b.Version {
		return ledger.ErrStale
	}
	tx.budgets[b.ID] = nil
	return nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if _, err := tx.GetBudget(ctx, t.BudgetID); err != nil {
		return core.Transaction{}, fmt.Errorf("budget %d: %w", t.BudgetID, err)
	}
	tx.nextTxn++
	t.ID = tx.nextTxn
	tx.transactions[t.ID] = &t
	return t, nil
}

func (tx *memTx) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	if _, err := tx.GetTransaction(ctx, t.ID); err != nil {
		return fmt.Errorf("transaction %d: %w", t.ID, err)
	}
	tx.transactions[t.ID] = &t
	return nil
}

func (tx *memTx) DeleteTransaction(ctx context.Context, id int64) error {
	if _, err := tx.GetTransaction(ctx, id); err != nil {
		return fmt.Errorf("transaction %d: %w", id, err)
	}
	tx.transactions[id] = nil
	for _, a := range tx.attachmentsFor(func(a core.Attachment) bool { return a.TransactionID == id }) {
		tx.attachments[a.ID] = nil
	}
	return nil
}

func (tx *memTx) DeleteTransactionsByBudget(ctx context.Context, budgetID int64) (int, error) {
	txns := filterTransactions(tx.base.transactions, tx.transactions, ledger.TransactionFilter{BudgetID: budgetID})
	for _, t := range txns {
		if err := tx.DeleteTransaction(ctx, t.ID); err != nil {
			return 0, err
		}
	}
	return len(txns), nil
}

func (tx *memTx) GetAttachment(ctx context.Context, id int64) (core.Attachment, error) {
	if a, staged := tx.attachments[id]; staged {
		if a == nil {
			return core.Attachment{}, core.ErrNotFound
		}
		return *a, nil
	}
	a, ok := tx.base.attachments[id]
	if !ok {
		return core.Attachment{}, core.ErrNotFound
	}
	return a, nil
}

func (tx *memTx) InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error) {
	if _, err := tx.GetTransaction(ctx, a.TransactionID); err != nil {
		return core.Attachment{}, fmt.Errorf("transaction %d: %w", a.TransactionID, err)
	}
	tx.nextAttach++
	a.ID = tx.nextAttach
	tx.attachments[a.ID] = &a
	return a, nil
}

func (tx *memTx) DeleteAttachment(ctx context.Context, id int64) error {
	if a, staged := tx.attachments[id]; staged && a == nil {
		return fmt.Errorf("attachment %d: %w", id, core.ErrNotFound)
	}
	if _, staged := tx.attachments[id]; !staged {
		if _, ok := tx.base.attachments[id]; !ok {
			return fmt.Errorf("attachment %d: %w", id, core.ErrNotFound)
		}
	}
	tx.attachments[id] = nil
	return nil
}

func (tx *memTx) ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error) {
	return tx.attachmentsFor(func(a core.Attachment) bool { return a.TransactionID == transactionID }), nil
}

func (tx *memTx) ListAttachmentsByBudget(ctx context.Context, budgetID int64) ([]core.Attachment, error) {
	return tx.attachmentsFor(func(a core.Attachment) bool {
		t, err := tx.GetTransaction(ctx, a.TransactionID)
		return err == nil && t.BudgetID == budgetID
	}), nil
}

func (tx *memTx) attachmentsFor(keep func(core.Attachment) bool) []core.Attachment {
	return filterAttachments(tx.base.attachments, tx.attachments, keep)
}

// filterTransactions merges base with an optional overlay and applies f.
func filterTransactions(base map[int64]core.Transaction, overlay map[int64]*core.Transaction, f ledger.TransactionFilter) []core.Transaction {
	out := make([]core.Transaction, 0)
	for id, t := range base {
		if o, staged := overlay[id]; staged {
			if o == nil {
				continue
			}
			t = *o
		}
		if f.Match(t) {
			out = append(out, t)
		}
	}
	for id, o := range overlay {
		if _, inBase := base[id]; inBase || o == nil {
			continue
		}
		if f.Match(*o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func filterAttachments(base map[int64]core.Attachment, overlay map[int64]*core.Attachment, keep func(core.Attachment) bool) []core.Attachment {
	out := make([]core.Attachment, 0)
	for id, a := range base {
		if o, staged := overlay[id]; staged {
			if o == nil {
				continue
			}
			a = *o
		}
		if keep(a) {
			out = append(out, a)
		}
	}
	for id, o := range overlay {
		if _, inBase := base[id]; inBase || o == nil {
			continue
		}
		if keep(*o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
