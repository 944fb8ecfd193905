package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Requests consumed by the reconciliation engine. Optional fields are
// pointers; nil means "not supplied".
type (
	RecordRequest struct {
		BudgetID int64
		OwnerID  int64
		Amount   decimal.Decimal
		Label    string
		Type     Kind
		// Date defaults to the commit time when zero.
		Date time.Time
	}

	ReviseRequest struct {
		TransactionID int64
		OwnerID       int64
		Amount        *decimal.Decimal
		Label         *string
		Type          *Kind
	}

	RetractRequest struct {
		TransactionID int64
		OwnerID       int64
	}

	NewBudget struct {
		OwnerID     int64
		Name        string
		Amount      decimal.Decimal
		Type        string
		Description *string
	}

	BudgetPatch struct {
		BudgetID    int64
		OwnerID     int64
		Name        *string
		Amount      *decimal.Decimal
		Type        *string
		Description *string
	}

	CloseBudgetRequest struct {
		BudgetID int64
		OwnerID  int64
		Cascade  bool
	}
)

func (r RecordRequest) Validate() error {
	if r.BudgetID <= 0 {
		return invalid("budgetId", "budgetId is required")
	}
	if err := validateAmount(r.Amount); err != nil {
		return err
	}
	if err := validateLabel(r.Label); err != nil {
		return err
	}
	if !r.Type.Valid() {
		return invalid("type", "type must be entree or sortie")
	}
	return nil
}

func (r ReviseRequest) Validate() error {
	if r.TransactionID <= 0 {
		return invalid("id", "transaction id is required")
	}
	if r.Amount != nil {
		if err := validateAmount(*r.Amount); err != nil {
			return err
		}
	}
	if r.Label != nil {
		if err := validateLabel(*r.Label); err != nil {
			return err
		}
	}
	if r.Type != nil && !r.Type.Valid() {
		return invalid("type", "type must be entree or sortie")
	}
	return nil
}

// Empty reports whether the revision changes nothing.
func (r ReviseRequest) Empty() bool {
	return r.Amount == nil && r.Label == nil && r.Type == nil
}

func (r RetractRequest) Validate() error {
	if r.TransactionID <= 0 {
		return invalid("id", "transaction id is required")
	}
	return nil
}

func (b NewBudget) Validate() error {
	if err := validateName(b.Name); err != nil {
		return err
	}
	if strings.TrimSpace(b.Type) == "" {
		return invalid("type", "type is required")
	}
	return nil
}

func (p BudgetPatch) Validate() error {
	if p.BudgetID <= 0 {
		return invalid("id", "budget id is required")
	}
	if p.Name != nil {
		if err := validateName(*p.Name); err != nil {
			return err
		}
	}
	if p.Type != nil && strings.TrimSpace(*p.Type) == "" {
		return invalid("type", "type cannot be empty")
	}
	return nil
}

func validateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return invalid("amount", "amount must be positive")
	}
	return nil
}

func validateLabel(label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return invalid("label", "label is required")
	}
	if len([]rune(label)) > MaxLabelLength {
		return invalid("label", "label is too long")
	}
	return nil
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", "name is required")
	}
	if len([]rune(name)) > MaxLabelLength {
		return invalid("name", "name is too long")
	}
	return nil
}
