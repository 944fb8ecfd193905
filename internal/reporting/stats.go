// Package reporting derives per-owner aggregates from committed ledger
// state. It only reads; balances are never written from here.
package reporting

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"finance/internal/cache"
	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/log"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// TopN bounds the "top" lists in both stats shapes.
const TopN = 5

const defaultCacheSize = 1024

// Cache key prefixes, one per stats shape.
const (
	kindBudgets      = "budgets"
	kindTransactions = "transactions"
	kindFiles        = "files"
	kindTemporal     = "temporal"
)

var kinds = []string{kindBudgets, kindTransactions, kindFiles, kindTemporal}

// Service computes and caches stats per owner. Concurrent misses for the
// same owner share one computation.
//
// Every owner has a generation that Invalidate bumps. A computation only
// caches its result if the generation it started under is still current, so
// a snapshot read before a committed write never outlives the invalidation.
type Service struct {
	reader       ledger.Reader
	budgets      *cache.LRUCache[core.BudgetStats]
	transactions *cache.LRUCache[core.TransactionStats]
	files        *cache.LRUCache[core.FileStats]
	temporal     *cache.LRUCache[core.TemporalStats]
	group        singleflight.Group
	logger       *log.Logger

	mu          sync.Mutex
	generations map[int64]uint64
}

// NewService builds a stats service. A ttl of zero disables caching.
func NewService(reader ledger.Reader, ttl time.Duration, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Discard()
	}
	return &Service{
		reader:       reader,
		budgets:      cache.NewLRUCache[core.BudgetStats](defaultCacheSize, ttl),
		transactions: cache.NewLRUCache[core.TransactionStats](defaultCacheSize, ttl),
		files:        cache.NewLRUCache[core.FileStats](defaultCacheSize, ttl),
		temporal:     cache.NewLRUCache[core.TemporalStats](defaultCacheSize, ttl),
		logger:       logger.WithComponent(log.ComponentReporting),
		generations:  make(map[int64]uint64),
	}
}

// Register hands the service's caches to a cleanup manager.
func (s *Service) Register(m *cache.Manager) {
	m.Register(s.budgets)
	m.Register(s.transactions)
	m.Register(s.files)
	m.Register(s.temporal)
}

func ownerKey(ownerID int64) string {
	return strconv.FormatInt(ownerID, 10)
}

// Invalidate drops cached stats for an owner. Call it after every committed
// ledger write.
func (s *Service) Invalidate(ownerID int64) {
	key := ownerKey(ownerID)

	s.mu.Lock()
	s.generations[ownerID]++
	s.budgets.Delete(key)
	s.transactions.Delete(key)
	s.files.Delete(key)
	s.temporal.Delete(key)
	s.mu.Unlock()

	// callers arriving from now on must not join a computation that may
	// have read the state before the write
	for _, kind := range kinds {
		s.group.Forget(kind + ":" + key)
	}
}

func (s *Service) generation(ownerID int64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[ownerID]
}

// cached serves one stats shape from c, computing it on a miss. The
// computation runs detached from the first caller's cancellation because
// other callers may be waiting on the same result.
func cached[T any](ctx context.Context, s *Service, c *cache.LRUCache[T], kind string, ownerID int64, compute func(ctx context.Context) (T, error)) (T, error) {
	key := ownerKey(ownerID)
	if st, ok := c.Get(key); ok {
		return st, nil
	}

	v, err, _ := s.group.Do(kind+":"+key, func() (any, error) {
		gen := s.generation(ownerID)
		st, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.generations[ownerID] == gen {
			c.Set(key, st)
		}
		s.mu.Unlock()
		return st, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *Service) BudgetStats(ctx context.Context, ownerID int64) (core.BudgetStats, error) {
	return cached(ctx, s, s.budgets, kindBudgets, ownerID, func(ctx context.Context) (core.BudgetStats, error) {
		budgets, err := s.reader.ListBudgets(ctx, ownerID)
		if err != nil {
			return core.BudgetStats{}, fmt.Errorf("list budgets: %w", err)
		}
		return ComputeBudgetStats(budgets), nil
	})
}

func (s *Service) TransactionStats(ctx context.Context, ownerID int64) (core.TransactionStats, error) {
	return cached(ctx, s, s.transactions, kindTransactions, ownerID, func(ctx context.Context) (core.TransactionStats, error) {
		budgets, err := s.reader.ListBudgets(ctx, ownerID)
		if err != nil {
			return core.TransactionStats{}, fmt.Errorf("list budgets: %w", err)
		}
		txns, err := s.reader.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: ownerID})
		if err != nil {
			return core.TransactionStats{}, fmt.Errorf("list transactions: %w", err)
		}
		st := ComputeTransactionStats(budgets, txns)
		s.logger.DebugContext(ctx, "Transaction stats computed",
			log.FieldOwnerID, ownerID, "count", st.Count)
		return st, nil
	})
}

// FileStats counts the owner's attachments, in total and per transaction.
func (s *Service) FileStats(ctx context.Context, ownerID int64) (core.FileStats, error) {
	return cached(ctx, s, s.files, kindFiles, ownerID, func(ctx context.Context) (core.FileStats, error) {
		atts, err := s.reader.ListAttachmentsByOwner(ctx, ownerID)
		if err != nil {
			return core.FileStats{}, fmt.Errorf("list attachments: %w", err)
		}
		return ComputeFileStats(atts), nil
	})
}

// TemporalStats groups the owner's transactions by calendar month.
func (s *Service) TemporalStats(ctx context.Context, ownerID int64) (core.TemporalStats, error) {
	return cached(ctx, s, s.temporal, kindTemporal, ownerID, func(ctx context.Context) (core.TemporalStats, error) {
		txns, err := s.reader.ListTransactions(ctx, ledger.TransactionFilter{OwnerID: ownerID})
		if err != nil {
			return core.TemporalStats{}, fmt.Errorf("list transactions: %w", err)
		}
		return ComputeTemporalStats(txns), nil
	})
}

// ComputeBudgetStats aggregates balances. ByType is ordered by type name and
// Top by balance, highest first.
func ComputeBudgetStats(budgets []core.Budget) core.BudgetStats {
	st := core.BudgetStats{
		Count:        len(budgets),
		TotalBalance: decimal.Zero,
		ByType:       []core.NamedAmount{},
		Top:          []core.Budget{},
	}

	byType := make(map[string]decimal.Decimal)
	for _, b := range budgets {
		st.TotalBalance = st.TotalBalance.Add(b.Amount)
		byType[b.Type] = byType[b.Type].Add(b.Amount)
	}
	st.ByType = sortedNamed(byType)

	top := slices.Clone(budgets)
	slices.SortStableFunc(top, func(a, b core.Budget) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(top) > TopN {
		top = top[:TopN]
	}
	if top != nil {
		st.Top = top
	}
	return st
}

// ComputeTransactionStats totals entrees and sorties, nets signed amounts
// per budget and picks the largest transactions by magnitude.
func ComputeTransactionStats(budgets []core.Budget, txns []core.Transaction) core.TransactionStats {
	st := core.TransactionStats{
		Count:    len(txns),
		Entrees:  decimal.Zero,
		Sorties:  decimal.Zero,
		Net:      decimal.Zero,
		ByBudget: []core.NamedAmount{},
		Top:      []core.Transaction{},
	}

	names := make(map[int64]string, len(budgets))
	for _, b := range budgets {
		names[b.ID] = b.Name
	}

	byBudget := make(map[string]decimal.Decimal)
	for _, t := range txns {
		if t.Type == core.Entree {
			st.Entrees = st.Entrees.Add(t.Amount)
		} else {
			st.Sorties = st.Sorties.Add(t.Amount)
		}
		name, ok := names[t.BudgetID]
		if !ok {
			name = "budget " + strconv.FormatInt(t.BudgetID, 10)
		}
		byBudget[name] = byBudget[name].Add(t.Signed())
	}
	st.Net = st.Entrees.Sub(st.Sorties)
	st.ByBudget = sortedNamed(byBudget)

	top := slices.Clone(txns)
	slices.SortStableFunc(top, func(a, b core.Transaction) int {
		if c := b.Amount.Cmp(a.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(top) > TopN {
		top = top[:TopN]
	}
	if top != nil {
		st.Top = top
	}
	return st
}

func sortedNamed(m map[string]decimal.Decimal) []core.NamedAmount {
	out := make([]core.NamedAmount, 0, len(m))
	for name, amount := range m {
		out = append(out, core.NamedAmount{Name: name, Amount: amount})
	}
	slices.SortFunc(out, func(a, b core.NamedAmount) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// ComputeFileStats counts attachments. ByTransaction is ordered by
// transaction id.
func ComputeFileStats(atts []core.Attachment) core.FileStats {
	st := core.FileStats{Count: len(atts), ByTransaction: []core.TransactionFiles{}}

	counts := make(map[int64]int)
	for _, a := range atts {
		st.TotalBytes += a.Size
		counts[a.TransactionID]++
	}
	for id, n := range counts {
		st.ByTransaction = append(st.ByTransaction, core.TransactionFiles{TransactionID: id, Count: n})
	}
	slices.SortFunc(st.ByTransaction, func(a, b core.TransactionFiles) int {
		return cmp.Compare(a.TransactionID, b.TransactionID)
	})
	return st
}

// ComputeTemporalStats buckets transactions by the UTC month of their date.
func ComputeTemporalStats(txns []core.Transaction) core.TemporalStats {
	byMonth := make(map[string]*core.MonthTotals)
	for _, t := range txns {
		month := t.Date.UTC().Format("2006-01")
		m, ok := byMonth[month]
		if !ok {
			m = &core.MonthTotals{Month: month, Entrees: decimal.Zero, Sorties: decimal.Zero}
			byMonth[month] = m
		}
		m.Count++
		if t.Type == core.Entree {
			m.Entrees = m.Entrees.Add(t.Amount)
		} else {
			m.Sorties = m.Sorties.Add(t.Amount)
		}
	}

	st := core.TemporalStats{Months: make([]core.MonthTotals, 0, len(byMonth))}
	for _, m := range byMonth {
		m.Net = m.Entrees.Sub(m.Sorties)
		st.Months = append(st.Months, *m)
	}
	slices.SortFunc(st.Months, func(a, b core.MonthTotals) int { return cmp.Compare(a.Month, b.Month) })
	return st
}
