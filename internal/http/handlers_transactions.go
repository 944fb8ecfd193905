package http

import (
	"net/http"

	"finance/internal/core"
	"finance/internal/ledger"
	"finance/internal/log"

	"github.com/shopspring/decimal"
)

// mutationResult is returned by every transaction write: the row, the budget
// as committed and the change applied to its balance.
type mutationResult struct {
	Transaction core.Transaction `json:"transaction"`
	Budget      core.Budget      `json:"budget"`
	Delta       decimal.Decimal  `json:"delta"`
}

func newMutationResult(res ledger.Result) mutationResult {
	return mutationResult{Transaction: res.Transaction, Budget: res.Budget, Delta: res.Delta}
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var body transactionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.recordRequest(owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.Record(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.appMetrics.recorded.Add(1)
	s.logMutation(r, "Transaction recorded", res)
	writeJSON(w, http.StatusCreated, newMutationResult(res))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseTransactionFilter(r.URL.Query(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	txns, err := s.ledger.ListTransactions(r.Context(), f.OwnerID, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []core.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.ledger.GetTransaction(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body transactionBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	req, err := body.reviseRequest(owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.Revise(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.appMetrics.revised.Add(1)
	s.logMutation(r, "Transaction revised", res)
	writeJSON(w, http.StatusOK, newMutationResult(res))
}

func (s *Server) handleRetract(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.Retract(r.Context(), core.RetractRequest{TransactionID: id, OwnerID: owner(r)})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.appMetrics.retracted.Add(1)
	s.logMutation(r, "Transaction retracted", res)
	writeJSON(w, http.StatusOK, newMutationResult(res))
}

func (s *Server) logMutation(r *http.Request, msg string, res ledger.Result) {
	fields := log.NewFields().
		WithLedger(res.Budget.OwnerID, res.Budget.ID, res.Transaction.ID).
		WithDelta(res.Delta, res.Budget.Amount)
	log.FromContext(r.Context()).InfoContext(r.Context(), msg, fields.ToSlice()...)
}
