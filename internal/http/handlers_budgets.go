package http

import (
	"net/http"

	"finance/internal/core"
	"finance/internal/log"
)

// closeSummary is the body returned after a budget is deleted.
type closeSummary struct {
	Budget       core.Budget `json:"budget"`
	Transactions int         `json:"transactions"`
	Attachments  int         `json:"attachments"`
}

func (s *Server) handleOpenBudget(w http.ResponseWriter, r *http.Request) {
	var body budgetBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	nb, err := body.newBudget(owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := s.ledger.OpenBudget(r.Context(), nb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Budget opened",
		log.FieldOwnerID, b.OwnerID,
		log.FieldBudgetID, b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.ledger.ListBudgets(r.Context(), owner(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if budgets == nil {
		budgets = []core.Budget{}
	}
	writeJSON(w, http.StatusOK, budgets)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.ledger.GetBudget(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleAmendBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body budgetBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := body.patch(owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	b, err := s.ledger.AmendBudget(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleCloseBudget(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cascade, err := parseBool(r.URL.Query(), "cascade")
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.ledger.CloseBudget(r.Context(), core.CloseBudgetRequest{
		BudgetID: id,
		OwnerID:  owner(r),
		Cascade:  cascade,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Budget closed",
		log.FieldOwnerID, res.Budget.OwnerID,
		log.FieldBudgetID, res.Budget.ID,
		"transactions", res.Transactions)
	writeJSON(w, http.StatusOK, closeSummary{
		Budget:       res.Budget,
		Transactions: res.Transactions,
		Attachments:  len(res.Attachments),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.ledger.Audit(r.Context(), owner(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
