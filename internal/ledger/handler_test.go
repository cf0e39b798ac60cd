package ledger_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger/ledgertest"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
)

func newTestRouter(store *ledgertest.Store) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Authorizer: rbac.NewRoleAuthorizer(rbac.DefaultRoleGrants()), Logger: logger}
	r := chi.NewRouter()
	r.Use(rbac.Actor)
	ledger.NewHandler(logger, ledger.NewService(store, ledger.ServiceConfig{Logger: logger}), mw).MountRoutes(r)
	return r
}

func do(h http.Handler, method, path, body, role string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderActorID, "11")
	req.Header.Set(rbac.HeaderActorRoles, role)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRecordAndRead(t *testing.T) {
	store := ledgertest.NewStore()
	store.Seed(21, 50)
	h := newTestRouter(store)

	rec := do(h, http.MethodPost, "/stock/movements", `{"variant_id":21,"kind":"OUT","quantity":20,"note":"web order"}`, "warehouse")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var m ledger.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	require.Equal(t, int64(11), m.ActorID)
	require.Equal(t, int64(30), m.AfterQty)

	rec = do(h, http.MethodPost, "/stock/movements", `{"variant_id":21,"kind":"OUT","quantity":40}`, "warehouse")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "quantity", problem["field"])
	require.EqualValues(t, 21, problem["variant_id"])
	require.EqualValues(t, 30, problem["available"])

	rec = do(h, http.MethodGet, "/stock/variants/21", "", "viewer")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"variant_id":21,"quantity":30}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/stock/variants/21/movements?kind=OUT", "", "viewer")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []ledger.Movement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	h := newTestRouter(ledgertest.NewStore())

	rec := do(h, http.MethodPost, "/stock/movements", `{"variant_id":1,"kind":"TRANSFER","quantity":1}`, "warehouse")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/stock/movements", `{"variant_id":1,"kind":"IN","quantity":1,"extra":true}`, "warehouse")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/stock/movements", `{"variant_id":1,"kind":"OUT","quantity":-2}`, "warehouse")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/stock/movements", `{"variant_id":1,"kind":"IN","quantity":1,"ref_module":"order","ref_id":"77"}`, "warehouse")
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = do(h, http.MethodGet, "/stock/variants/abc", "", "viewer")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/stock/movements", `{"variant_id":1,"kind":"IN","quantity":1}`, "viewer")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerAuditRequiresAuditPermission(t *testing.T) {
	store := ledgertest.NewStore()
	store.Seed(1, 5)
	store.SetProjection(1, 6)
	h := newTestRouter(store)

	rec := do(h, http.MethodPost, "/stock/audit", "", "warehouse")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/stock/audit?fix=true", "", "supervisor")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report ledger.AuditReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Len(t, report.Drifted, 1)
	require.Equal(t, int64(5), store.Quantity(1))
}
