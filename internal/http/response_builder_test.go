package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"finance/internal/auth"
	"finance/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONResponseBuilder(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/budgets/1").
		JSON(map[string]int{"id": 1}).
		Write(rr)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "/budgets/1", rr.Header().Get("Location"))
	assert.JSONEq(t, `{"id":1}`, rr.Body.String())
}

func TestJSONResponseBuilderWithoutBody(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().Status(http.StatusNoContent).Write(rr)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestJSONResponseBuilderEncodeFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJSONResponse().JSON(map[string]any{"bad": make(chan int)}).Write(rr)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&core.ValidationError{Field: "amount", Message: "amount must be positive"}, http.StatusBadRequest},
		{fmt.Errorf("get budget 4: %w", core.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("record: %w", core.ErrConflict), http.StatusConflict},
		{core.ErrBudgetInUse, http.StatusConflict},
		{auth.ErrMissingToken, http.StatusUnauthorized},
		{fmt.Errorf("%w: expired", auth.ErrInvalidToken), http.StatusUnauthorized},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), "%v", tc.err)
	}
}

func TestFromErrorBodies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/budgets/4", nil)

	t.Run("validation names the field", func(t *testing.T) {
		rr := httptest.NewRecorder()
		FromError(req, fmt.Errorf("record: %w", &core.ValidationError{Field: "label", Message: "label is required"})).Write(rr)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":"label is required","field":"label"}`, rr.Body.String())
	})

	t.Run("not found hides the id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		FromError(req, fmt.Errorf("budget 4: %w", core.ErrNotFound)).Write(rr)
		assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())
	})

	t.Run("internal errors are not echoed", func(t *testing.T) {
		rr := httptest.NewRecorder()
		FromError(req, errors.New("pq: password authentication failed")).Write(rr)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "pq")
	})

	t.Run("conflict keeps its message", func(t *testing.T) {
		rr := httptest.NewRecorder()
		FromError(req, core.ErrConflict).Write(rr)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.JSONEq(t, `{"error":"conflict: concurrent update, retry later"}`, rr.Body.String())
	})
}
