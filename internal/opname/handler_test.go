package opname_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/opname"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
)

func newTestRouter(f *fixture) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Authorizer: rbac.NewRoleAuthorizer(rbac.DefaultRoleGrants()), Logger: logger}
	r := chi.NewRouter()
	r.Use(rbac.Actor)
	opname.NewHandler(logger, f.svc, mw).MountRoutes(r)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body, role string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderActorID, "7")
	req.Header.Set(rbac.HeaderActorRoles, role)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSessionLifecycle(t *testing.T) {
	f := newFixture(opname.PolicySnapshot)
	f.store.Seed(4, 30)
	h := newTestRouter(f)

	rec := call(t, h, http.MethodPost, "/opname/sessions/", `{"opname_date":"2024-06-30","note":"aisle 4"}`, "warehouse")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session opname.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))

	base := "/opname/sessions/" + strconv.FormatInt(session.ID, 10)
	rec = call(t, h, http.MethodPost, base+"/details", `{"variant_id":4}`, "warehouse")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, base+"/complete", "", "warehouse")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), `"field":"real_stock"`)

	rec = call(t, h, http.MethodPut, base+"/details/4", `{"real_stock":-1}`, "warehouse")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h, http.MethodPut, base+"/details/4", `{"real_stock":28}`, "warehouse")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, h, http.MethodPost, base+"/complete", "", "warehouse")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, opname.StatusCompleted, session.Status)
	require.Equal(t, int64(28), f.store.Quantity(4))

	rec = call(t, h, http.MethodPost, base+"/cancel", "", "warehouse")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRequiresManagePermission(t *testing.T) {
	f := newFixture(opname.PolicySnapshot)
	h := newTestRouter(f)

	rec := call(t, h, http.MethodPost, "/opname/sessions/", `{}`, "viewer")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, h, http.MethodGet, "/opname/sessions/", "", "viewer")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, h, http.MethodGet, "/opname/sessions/99", "", "viewer")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
