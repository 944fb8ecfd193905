// Package http provides the JSON API server and its handlers.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies are decoded into DTOs with pointer fields so that "absent" and
// "zero" stay distinguishable, then converted into core request values.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finance/internal/core"
	"finance/internal/ledger"

	"github.com/shopspring/decimal"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// MaxListLimit caps the limit query parameter on list endpoints.
const MaxListLimit = 500

func invalidField(field, msg string) error {
	return &core.ValidationError{Field: field, Message: msg}
}

// decodeJSON reads exactly one JSON value into dst. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		var syntax *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, core.ErrValidation):
			return err
		case errors.Is(err, io.EOF):
			return invalidField("", "request body is required")
		case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
			return invalidField("", "request body is not valid JSON")
		case errors.As(err, &typeErr) && typeErr.Field == "":
			return invalidField("", "request body must be a JSON object")
		case errors.As(err, &typeErr):
			return invalidField(typeErr.Field, fmt.Sprintf("%s has the wrong type", typeErr.Field))
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
			return invalidField(name, fmt.Sprintf("unknown field %q", name))
		default:
			return invalidField("", "request body is not valid JSON")
		}
	}
	if dec.More() {
		return invalidField("", "request body must contain a single JSON object")
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidField(name, fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

// amountText is a transaction amount as sent by the client: a JSON number
// or a string such as "12,50".
type amountText string

func (a *amountText) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return invalidField("amount", "amount must be a number")
		}
		*a = amountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return invalidField("amount", "amount must be a number")
	}
	*a = amountText(n)
	return nil
}

// amount parses the text into a positive amount rounded to the stored scale.
func (a amountText) amount() (decimal.Decimal, error) {
	return core.ParseAmount(string(a))
}

// parseTime accepts RFC3339 timestamps and plain dates. A plain "to" date
// covers the whole day.
func parseTime(field, v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Time{}, invalidField(field, field+" must be RFC3339 or YYYY-MM-DD")
}

type budgetBody struct {
	Name        *string      `json:"name"`
	Amount      *json.Number `json:"amount"`
	Type        *string      `json:"type"`
	Description *string      `json:"description"`
}

// newBudget converts a creation body. Amount may be omitted and defaults to
// zero; it may be negative since a budget can be overdrawn.
func (b budgetBody) newBudget(ownerID int64) (core.NewBudget, error) {
	nb := core.NewBudget{OwnerID: ownerID, Amount: decimal.Zero, Description: b.Description}
	if b.Name != nil {
		nb.Name = strings.TrimSpace(*b.Name)
	}
	if b.Type != nil {
		nb.Type = strings.TrimSpace(*b.Type)
	}
	if b.Amount != nil {
		d, err := decimal.NewFromString(b.Amount.String())
		if err != nil {
			return core.NewBudget{}, invalidField("amount", "amount must be a number")
		}
		nb.Amount = core.NormalizeAmount(d)
	}
	return nb, nil
}

func (b budgetBody) patch(ownerID, budgetID int64) (core.BudgetPatch, error) {
	p := core.BudgetPatch{
		BudgetID:    budgetID,
		OwnerID:     ownerID,
		Name:        b.Name,
		Type:        b.Type,
		Description: b.Description,
	}
	if b.Amount != nil {
		d, err := decimal.NewFromString(b.Amount.String())
		if err != nil {
			return core.BudgetPatch{}, invalidField("amount", "amount must be a number")
		}
		d = core.NormalizeAmount(d)
		p.Amount = &d
	}
	return p, nil
}

type transactionBody struct {
	BudgetID *int64      `json:"budgetId"`
	Amount   *amountText `json:"amount"`
	Label    *string     `json:"label"`
	Type     *string     `json:"type"`
	Date     *string     `json:"date"`
}

func (b transactionBody) recordRequest(ownerID int64) (core.RecordRequest, error) {
	req := core.RecordRequest{OwnerID: ownerID}
	if b.BudgetID == nil {
		return req, invalidField("budgetId", "budgetId is required")
	}
	req.BudgetID = *b.BudgetID

	if b.Amount == nil {
		return req, invalidField("amount", "amount is required")
	}
	amount, err := b.Amount.amount()
	if err != nil {
		return req, err
	}
	req.Amount = amount

	if b.Label != nil {
		req.Label = strings.TrimSpace(*b.Label)
	}
	if b.Type == nil {
		return req, invalidField("type", "type is required")
	}
	kind, err := core.ParseKind(*b.Type)
	if err != nil {
		return req, err
	}
	req.Type = kind

	if b.Date != nil && strings.TrimSpace(*b.Date) != "" {
		d, err := parseTime("date", *b.Date, false)
		if err != nil {
			return req, err
		}
		req.Date = d
	}
	return req, nil
}

// reviseRequest converts a PATCH body. Moving a transaction to another
// budget or back-dating it is not supported.
func (b transactionBody) reviseRequest(ownerID, transactionID int64) (core.ReviseRequest, error) {
	req := core.ReviseRequest{TransactionID: transactionID, OwnerID: ownerID, Label: b.Label}
	if b.BudgetID != nil {
		return req, invalidField("budgetId", "budgetId cannot be changed")
	}
	if b.Date != nil {
		return req, invalidField("date", "date cannot be changed")
	}
	if b.Amount != nil {
		amount, err := b.Amount.amount()
		if err != nil {
			return req, err
		}
		req.Amount = &amount
	}
	if b.Type != nil {
		kind, err := core.ParseKind(*b.Type)
		if err != nil {
			return req, err
		}
		req.Type = &kind
	}
	return req, nil
}

// parseTransactionFilter reads the list filters from the query string.
func parseTransactionFilter(q url.Values, ownerID int64) (ledger.TransactionFilter, error) {
	f := ledger.TransactionFilter{OwnerID: ownerID}

	if v := strings.TrimSpace(q.Get("budgetId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, invalidField("budgetId", "budgetId must be a positive integer")
		}
		f.BudgetID = id
	}
	if v := strings.TrimSpace(q.Get("type")); v != "" {
		kind, err := core.ParseKind(v)
		if err != nil {
			return f, err
		}
		f.Type = kind
	}
	for _, bound := range []struct {
		name string
		dst  **decimal.Decimal
	}{{"minAmount", &f.MinAmount}, {"maxAmount", &f.MaxAmount}} {
		v := strings.TrimSpace(q.Get(bound.name))
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return f, invalidField(bound.name, bound.name+" must be a number")
		}
		*bound.dst = &d
	}
	if f.MinAmount != nil && f.MaxAmount != nil && f.MinAmount.GreaterThan(*f.MaxAmount) {
		return f, invalidField("minAmount", "minAmount cannot exceed maxAmount")
	}

	f.Label = strings.TrimSpace(q.Get("label"))

	if v := q.Get("from"); strings.TrimSpace(v) != "" {
		t, err := parseTime("from", v, false)
		if err != nil {
			return f, err
		}
		f.From = t
	}
	if v := q.Get("to"); strings.TrimSpace(v) != "" {
		t, err := parseTime("to", v, true)
		if err != nil {
			return f, err
		}
		f.To = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, invalidField("from", "from must not be after to")
	}

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxListLimit {
			return f, invalidField("limit", fmt.Sprintf("limit must be between 1 and %d", MaxListLimit))
		}
		f.Limit = n
	}
	return f, nil
}

// parseBool reads an optional boolean query flag.
func parseBool(q url.Values, name string) (bool, error) {
	v := strings.TrimSpace(q.Get(name))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, invalidField(name, name+" must be true or false")
	}
	return b, nil
}
