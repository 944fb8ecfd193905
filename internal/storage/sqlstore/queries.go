package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"finance/internal/core"
	"finance/internal/ledger"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement the ledger needs. Inside a Postgres
// transaction lock is set and point reads take row locks.
type queries struct {
	db      queryer
	dialect Dialect
	lock    bool
}

var _ ledger.Tx = (*queries)(nil)

const (
	budgetColumns      = `id, name, amount, opening_amount, type, description, owner_id, created_at, version`
	transactionColumns = `id, budget_id, owner_id, amount, label, type, date`
	attachmentColumns  = `id, transaction_id, owner_id, file_name, stored_name, content_type, size, created_at`
)

// rebind rewrites ? placeholders to $n for Postgres.
func (q *queries) rebind(query string) string {
	if q.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (q *queries) forUpdate() string {
	if q.lock {
		return " FOR UPDATE"
	}
	return ""
}

func (q *queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

// Budgets

func (q *queries) GetBudget(ctx context.Context, id int64) (core.Budget, error) {
	row := q.queryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`+q.forUpdate(), id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %d: %w", id, err)
	}
	return b, nil
}

func (q *queries) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	rows, err := q.query(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	out := make([]core.Budget, 0)
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *queries) InsertBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b.Version = 1
	err := q.queryRow(ctx,
		`INSERT INTO budgets (name, amount, opening_amount, type, description, owner_id, created_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		b.Name, b.Amount, b.Opening, b.Type, nullString(b.Description), b.OwnerID, b.CreatedAt, b.Version,
	).Scan(&b.ID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	return b, nil
}

func (q *queries) UpdateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	res, err := q.exec(ctx,
		`UPDATE budgets
		 SET name = ?, amount = ?, opening_amount = ?, type = ?, description = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		b.Name, b.Amount, b.Opening, b.Type, nullString(b.Description), b.ID, b.Version,
	)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update budget %d: %w", b.ID, err)
	}
	if err := expectOne(res); err != nil {
		return core.Budget{}, err
	}
	b.Version++
	return b, nil
}

func (q *queries) DeleteBudget(ctx context.Context, b core.Budget) error {
	res, err := q.exec(ctx, `DELETE FROM budgets WHERE id = ? AND version = ?`, b.ID, b.Version)
	if err != nil {
		return fmt.Errorf("delete budget %d: %w", b.ID, err)
	}
	return expectOne(res)
}

// Transactions

func (q *queries) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := q.queryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`+q.forUpdate(), id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (q *queries) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]core.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	if f.BudgetID != 0 {
		where = append(where, "budget_id = ?")
		args = append(args, f.BudgetID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Label != "" {
		where = append(where, "LOWER(label) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Label)+"%")
	}
	// SQLite keeps dates as text in the driver's layout, so date bounds are
	// only pushed down to Postgres and otherwise checked by Match.
	if q.dialect == Postgres && !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From)
	}
	if q.dialect == Postgres && !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	// Amount bounds are compared as decimals here; SQLite stores amounts as
	// text and would compare them lexically.
	out := make([]core.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if !f.Match(t) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (q *queries) CountTransactions(ctx context.Context, budgetID int64) (int, error) {
	var n int
	if err := q.queryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE budget_id = ?`, budgetID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func (q *queries) InsertTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	err := q.queryRow(ctx,
		`INSERT INTO transactions (budget_id, owner_id, amount, label, type, date)
		 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		t.BudgetID, t.OwnerID, t.Amount, t.Label, string(t.Type), t.Date,
	).Scan(&t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (q *queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.exec(ctx,
		`UPDATE transactions SET amount = ?, label = ?, type = ? WHERE id = ?`,
		t.Amount, t.Label, string(t.Type), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %d: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (q *queries) DeleteTransaction(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, `DELETE FROM attachments WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("delete attachments of %d: %w", id, err)
	}
	res, err := q.exec(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("transaction %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *queries) DeleteTransactionsByBudget(ctx context.Context, budgetID int64) (int, error) {
	if _, err := q.exec(ctx,
		`DELETE FROM attachments WHERE transaction_id IN (SELECT id FROM transactions WHERE budget_id = ?)`,
		budgetID,
	); err != nil {
		return 0, fmt.Errorf("delete attachments of budget %d: %w", budgetID, err)
	}
	res, err := q.exec(ctx, `DELETE FROM transactions WHERE budget_id = ?`, budgetID)
	if err != nil {
		return 0, fmt.Errorf("delete transactions of budget %d: %w", budgetID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Attachments

func (q *queries) GetAttachment(ctx context.Context, id int64) (core.Attachment, error) {
	row := q.queryRow(ctx, `SELECT `+attachmentColumns+` FROM attachments WHERE id = ?`, id)
	a, err := scanAttachment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Attachment{}, core.ErrNotFound
	}
	if err != nil {
		return core.Attachment{}, fmt.Errorf("get attachment %d: %w", id, err)
	}
	return a, nil
}

func (q *queries) ListAttachments(ctx context.Context, transactionID int64) ([]core.Attachment, error) {
	return q.listAttachments(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE transaction_id = ? ORDER BY id`, transactionID)
}

func (q *queries) ListAttachmentsByOwner(ctx context.Context, ownerID int64) ([]core.Attachment, error) {
	return q.listAttachments(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (q *queries) ListAttachmentsByBudget(ctx context.Context, budgetID int64) ([]core.Attachment, error) {
	return q.listAttachments(ctx,
		`SELECT a.id, a.transaction_id, a.owner_id, a.file_name, a.stored_name, a.content_type, a.size, a.created_at
		 FROM attachments a JOIN transactions t ON t.id = a.transaction_id
		 WHERE t.budget_id = ? ORDER BY a.id`, budgetID)
}

func (q *queries) listAttachments(ctx context.Context, query string, args ...any) ([]core.Attachment, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	out := make([]core.Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q *queries) InsertAttachment(ctx context.Context, a core.Attachment) (core.Attachment, error) {
	err := q.queryRow(ctx,
		`INSERT INTO attachments (transaction_id, owner_id, file_name, stored_name, content_type, size, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.TransactionID, a.OwnerID, a.FileName, a.StoredName, a.ContentType, a.Size, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return core.Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

func (q *queries) DeleteAttachment(ctx context.Context, id int64) error {
	res, err := q.exec(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete attachment %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("attachment %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// expectOne turns a zero-row versioned write into ledger.ErrStale.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrStale
	}
	return nil
}
