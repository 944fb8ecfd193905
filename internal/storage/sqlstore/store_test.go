package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"finance/internal/core"
	"finance/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRebind(t *testing.T) {
	pg := &queries{dialect: Postgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &queries{dialect: SQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestForUpdateOnlyWhenLocking(t *testing.T) {
	assert.Equal(t, "", (&queries{dialect: SQLite}).forUpdate())
	assert.Equal(t, " FOR UPDATE", (&queries{dialect: Postgres, lock: true}).forUpdate())
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("/tmp/x.db")
	assert.Contains(t, dsn, "file:/tmp/x.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "busy_timeout(5000)")
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	require.NoError(t, RunMigrations(SQLite, SQLiteDSN(path)))
	require.NoError(t, RunMigrations(SQLite, SQLiteDSN(path)))
}

func TestBudgetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	desc := "food"

	var created core.Budget
	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		created, err = tx.InsertBudget(ctx, core.Budget{
			Name:        "groceries",
			Amount:      dec("500.25"),
			Opening:     dec("500.25"),
			Type:        "monthly",
			Description: &desc,
			OwnerID:     1,
			CreatedAt:   time.Now().UTC().Truncate(time.Second),
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, int64(1), created.Version)

	got, err := s.GetBudget(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Name)
	assert.True(t, got.Amount.Equal(dec("500.25")))
	assert.True(t, got.Opening.Equal(dec("500.25")))
	require.NotNil(t, got.Description)
	assert.Equal(t, "food", *got.Description)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

	list, err := s.ListBudgets(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListBudgets(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetBudget(ctx, 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetTransaction(ctx, 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.GetAttachment(ctx, 42)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdateBudgetStaleVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s)

	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "rent", Type: "monthly", Amount: dec("10")})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		stale := b
		stale.Version = b.Version + 7
		_, err := tx.UpdateBudget(ctx, stale)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrStale)

	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		b.Amount = dec("11")
		updated, err := tx.UpdateBudget(ctx, b)
		if err != nil {
			return err
		}
		assert.Equal(t, b.Version+1, updated.Version)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s)
	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "rent", Type: "monthly", Amount: dec("10")})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.InsertTransaction(ctx, core.Transaction{
			BudgetID: b.ID, OwnerID: 1, Amount: dec("1"), Label: "x", Type: core.Entree, Date: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := s.ListTransactions(ctx, ledger.TransactionFilter{BudgetID: b.ID})
	require.NoError(t, err)
	assert.Empty(t, n)
}

func TestEngineOverSQLite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s)

	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "groceries", Type: "monthly", Amount: dec("500")})
	require.NoError(t, err)

	res, err := e.Record(ctx, core.RecordRequest{BudgetID: b.ID, OwnerID: 1, Amount: dec("100"), Label: "salary", Type: core.Entree})
	require.NoError(t, err)
	assert.True(t, res.Budget.Amount.Equal(dec("600")))

	amount := dec("100")
	sortie := core.Sortie
	rev, err := e.Revise(ctx, core.ReviseRequest{TransactionID: res.Transaction.ID, OwnerID: 1, Amount: &amount, Type: &sortie})
	require.NoError(t, err)
	assert.True(t, rev.Budget.Amount.Equal(dec("400")))

	_, err = e.Retract(ctx, core.RetractRequest{TransactionID: res.Transaction.ID, OwnerID: 1})
	require.NoError(t, err)

	got, err := s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("500")))

	report, err := e.Audit(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestConcurrentRecordsOverSQLite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s, ledger.WithMaxRetries(20))

	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "jar", Type: "savings", Amount: dec("0")})
	require.NoError(t, err)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Record(ctx, core.RecordRequest{
				BudgetID: b.ID, OwnerID: 1, Amount: dec("2"), Label: "coin", Type: core.Entree,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("50")), "balance %s", got.Amount)
}

func TestCascadeCloseRemovesAttachments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s)

	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "trip", Type: "once", Amount: dec("100")})
	require.NoError(t, err)
	res, err := e.Record(ctx, core.RecordRequest{BudgetID: b.ID, OwnerID: 1, Amount: dec("30"), Label: "train", Type: core.Sortie})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.InsertAttachment(ctx, core.Attachment{
			TransactionID: res.Transaction.ID, OwnerID: 1, FileName: "ticket.pdf",
			StoredName: "abc.pdf", ContentType: "application/pdf", Size: 3, CreatedAt: time.Now(),
		})
		return err
	})
	require.NoError(t, err)

	owned, err := s.ListAttachmentsByOwner(ctx, 1)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "ticket.pdf", owned[0].FileName)
	foreign, err := s.ListAttachmentsByOwner(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, foreign)

	_, err = e.CloseBudget(ctx, core.CloseBudgetRequest{BudgetID: b.ID, OwnerID: 1})
	assert.ErrorIs(t, err, core.ErrBudgetInUse)

	closed, err := e.CloseBudget(ctx, core.CloseBudgetRequest{BudgetID: b.ID, OwnerID: 1, Cascade: true})
	require.NoError(t, err)
	assert.Equal(t, 1, closed.Transactions)
	require.Len(t, closed.Attachments, 1)
	assert.Equal(t, "abc.pdf", closed.Attachments[0].StoredName)

	_, err = s.GetBudget(ctx, b.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	atts, err := s.ListAttachments(ctx, res.Transaction.ID)
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestListTransactionsFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := ledger.NewEngine(s)

	b, err := e.OpenBudget(ctx, core.NewBudget{OwnerID: 1, Name: "misc", Type: "monthly", Amount: dec("0")})
	require.NoError(t, err)
	for _, r := range []struct {
		amount string
		label  string
		kind   core.Kind
	}{
		{"9", "Coffee", core.Sortie},
		{"10", "coffee beans", core.Sortie},
		{"100", "salary", core.Entree},
	} {
		_, err := e.Record(ctx, core.RecordRequest{BudgetID: b.ID, OwnerID: 1, Amount: dec(r.amount), Label: r.label, Type: r.kind})
		require.NoError(t, err)
	}

	got, err := s.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: 1, Label: "COFFEE"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	min := dec("9.5")
	got, err = s.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: 1, MinAmount: &min, Type: core.Sortie})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "coffee beans", got[0].Label)

	got, err = s.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: 1, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
