package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type fieldError struct{}

func (fieldError) Error() string { return "short by 3" }

func (fieldError) Is(target error) bool { return target == shared.ErrBusinessRule }

func (fieldError) ProblemFields() map[string]any {
	return map[string]any{"field": "quantity", "variant_id": 12}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("session: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("quantity: %w", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("state: %w", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("rule: %w", shared.ErrBusinessRule), http.StatusUnprocessableEntity},
		{shared.ErrForbidden, http.StatusForbidden},
		{ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("password=hunter2"))
	body := decode(t, rec)
	require.NotContains(t, body, "detail")
	require.Equal(t, "Internal Error", body["title"])
}

func TestRespondErrorFlattensFields(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("confirm order: %w", fieldError{}))
	body := decode(t, rec)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "quantity", body["field"])
	require.EqualValues(t, 12, body["variant_id"])
	require.Equal(t, "Business Rule Violation", body["title"])
}

func TestRespondErrorMarksRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("lock wait: %w", shared.ErrRetryable))
	body := decode(t, rec)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, true, body["retryable"])
}
