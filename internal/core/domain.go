package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	Entree Kind = "entree"
	Sortie Kind = "sortie"
)

// MaxLabelLength bounds transaction labels and budget names.
const MaxLabelLength = 200

type (
	// Kind tells whether a transaction credits (entree) or debits (sortie)
	// its budget.
	Kind string

	// Budget is a named bucket whose Amount is the live remaining balance.
	// Opening is the balance the ledger started from; it never leaves the
	// store layer and only moves when the balance is rebased explicitly.
	Budget struct {
		ID          int64           `json:"id"`
		Name        string          `json:"name"`
		Amount      decimal.Decimal `json:"amount"`
		Type        string          `json:"type"`
		Description *string         `json:"description"`
		OwnerID     int64           `json:"ownerId"`
		CreatedAt   time.Time       `json:"createdAt"`

		Opening decimal.Decimal `json:"-"`
		Version int64           `json:"-"`
	}

	// Transaction is a single ledger entry against exactly one budget.
	Transaction struct {
		ID       int64           `json:"id"`
		BudgetID int64           `json:"budgetId"`
		OwnerID  int64           `json:"ownerId"`
		Amount   decimal.Decimal `json:"amount"`
		Label    string          `json:"label"`
		Type     Kind            `json:"type"`
		Date     time.Time       `json:"date"`
	}

	// Attachment is file metadata bound to a transaction. The bytes live in
	// a blob store under StoredName.
	Attachment struct {
		ID            int64     `json:"id"`
		TransactionID int64     `json:"transactionId"`
		OwnerID       int64     `json:"ownerId"`
		FileName      string    `json:"fileName"`
		StoredName    string    `json:"-"`
		ContentType   string    `json:"contentType"`
		Size          int64     `json:"size"`
		CreatedAt     time.Time `json:"createdAt"`
	}
)

// ParseKind normalizes and checks a type tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &ValidationError{Field: "type", Message: "type must be entree or sortie"}
	}
	return k, nil
}

func (k Kind) Valid() bool {
	return k == Entree || k == Sortie
}

func (k Kind) String() string {
	return string(k)
}

// Signed returns the transaction's effect on its budget balance.
func (t Transaction) Signed() decimal.Decimal {
	return SignedAmount(t.Amount, t.Type)
}

// SignedAmount applies the sign of k to a magnitude.
func SignedAmount(amount decimal.Decimal, k Kind) decimal.Decimal {
	if k == Entree {
		return amount
	}
	return amount.Neg()
}

// Merge returns the transaction with the supplied revision fields applied.
// Unsupplied fields keep their current values.
func (t Transaction) Merge(r ReviseRequest) Transaction {
	out := t
	if r.Amount != nil {
		out.Amount = *r.Amount
	}
	if r.Label != nil {
		out.Label = strings.TrimSpace(*r.Label)
	}
	if r.Type != nil {
		out.Type = *r.Type
	}
	return out
}

// Apply returns the budget with the supplied amendment fields applied. A new
// Amount rebases the ledger: Opening shifts by the same difference so the
// balance invariant still holds against the existing transactions.
func (b Budget) Apply(p BudgetPatch) Budget {
	out := b
	if p.Name != nil {
		out.Name = strings.TrimSpace(*p.Name)
	}
	if p.Type != nil {
		out.Type = strings.TrimSpace(*p.Type)
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		if d == "" {
			out.Description = nil
		} else {
			out.Description = &d
		}
	}
	if p.Amount != nil {
		out.Opening = b.Opening.Add(p.Amount.Sub(b.Amount))
		out.Amount = *p.Amount
	}
	return out
}
