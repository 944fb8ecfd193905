package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"finance/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	decode := func(body string) (transactionBody, error) {
		var dst transactionBody
		r := httptest.NewRequest(http.MethodPost, "/transactions", strings.NewReader(body))
		err := decodeJSON(httptest.NewRecorder(), r, &dst)
		return dst, err
	}

	got, err := decode(`{"budgetId": 3, "amount": 12.345, "label": "x", "type": "sortie"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(3), *got.BudgetID)
	assert.Equal(t, amountText("12.345"), *got.Amount)

	for name, body := range map[string]string{
		"empty":         ``,
		"syntax":        `{"amount":`,
		"wrong type":    `{"budgetId": "three"}`,
		"unknown":       `{"owner": 2}`,
		"two values":    `{} {}`,
		"not an object": `[1, 2]`,
		"bool amount":   `{"amount": true}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := decode(body)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrValidation), "%v", err)
		})
	}

	t.Run("oversized body", func(t *testing.T) {
		_, err := decode(`{"label":"` + strings.Repeat("a", MaxBodyBytes) + `"}`)
		var tooLarge *http.MaxBytesError
		assert.True(t, errors.As(err, &tooLarge), "%v", err)
	})
}

func TestRecordRequestConversion(t *testing.T) {
	var body transactionBody
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"budgetId": 7, "amount": "19,999", "label": " taxi ", "type": "SORTIE", "date": "2024-02-03"}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), r, &body))

	req, err := body.recordRequest(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), req.OwnerID)
	assert.Equal(t, int64(7), req.BudgetID)
	assert.Equal(t, "20", req.Amount.String())
	assert.Equal(t, "taxi", req.Label)
	assert.Equal(t, core.Sortie, req.Type)
	assert.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), req.Date)
}

func TestAmountText(t *testing.T) {
	cases := []struct {
		body string
		want string
	}{
		{`{"amount": 12.345}`, "12.35"},
		{`{"amount": "12,5"}`, "12.5"},
		{`{"amount": " 7 "}`, "7"},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			var body transactionBody
			require.NoError(t, json.Unmarshal([]byte(tc.body), &body))
			got, err := body.Amount.amount()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}

	for _, raw := range []string{`"abc"`, `"0"`, `-3`, `""`} {
		t.Run("rejects "+raw, func(t *testing.T) {
			var body transactionBody
			require.NoError(t, json.Unmarshal([]byte(`{"amount": `+raw+`}`), &body))
			_, err := body.Amount.amount()
			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve), "%v", err)
			assert.Equal(t, "amount", ve.Field)
		})
	}
}

func TestReviseRequestConversion(t *testing.T) {
	kind := "entree"
	req, err := transactionBody{Type: &kind}.reviseRequest(1, 9)
	require.NoError(t, err)
	assert.Nil(t, req.Amount)
	assert.Nil(t, req.Label)
	require.NotNil(t, req.Type)
	assert.Equal(t, core.Entree, *req.Type)

	date := "2024-01-01"
	_, err = transactionBody{Date: &date}.reviseRequest(1, 9)
	assert.True(t, errors.Is(err, core.ErrValidation))
}

func TestParseTransactionFilter(t *testing.T) {
	q := url.Values{
		"budgetId":  {"4"},
		"type":      {"entree"},
		"minAmount": {"10"},
		"maxAmount": {"99.5"},
		"label":     {" rent "},
		"from":      {"2024-01-01"},
		"to":        {"2024-01-31"},
		"limit":     {"20"},
	}
	f, err := parseTransactionFilter(q, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.OwnerID)
	assert.Equal(t, int64(4), f.BudgetID)
	assert.Equal(t, core.Entree, f.Type)
	assert.Equal(t, "10", f.MinAmount.String())
	assert.Equal(t, "99.5", f.MaxAmount.String())
	assert.Equal(t, "rent", f.Label)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), f.From)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 999999999, time.UTC), f.To)
	assert.Equal(t, 20, f.Limit)

	bad := []url.Values{
		{"budgetId": {"x"}},
		{"type": {"both"}},
		{"minAmount": {"lots"}},
		{"from": {"2024-02-01"}, "to": {"2024-01-01"}},
		{"to": {"31/01/2024"}},
		{"limit": {"100000"}},
	}
	for _, q := range bad {
		_, err := parseTransactionFilter(q, 1)
		assert.True(t, errors.Is(err, core.ErrValidation), "%v", q)
	}
}

func TestPathID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/budgets/12", nil)
	r.SetPathValue("id", "12")
	id, err := pathID(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, v := range []string{"0", "-1", "abc", ""} {
		r.SetPathValue("id", v)
		_, err := pathID(r, "id")
		assert.Error(t, err, v)
	}
}
