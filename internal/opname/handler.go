package opname

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type opnameService interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (Session, error)
	AddDetail(ctx context.Context, sessionID, variantID int64) (Detail, error)
	SetRealCount(ctx context.Context, sessionID, variantID, realStock int64) (Detail, error)
	CompleteSession(ctx context.Context, sessionID, actorID int64) (Session, error)
	CancelSession(ctx context.Context, sessionID, actorID int64) (Session, error)
	GetSession(ctx context.Context, sessionID int64) (Session, error)
	ListSessions(ctx context.Context, filter ListFilter) ([]Session, error)
}

// Handler wires HTTP endpoints for stock opname sessions.
type Handler struct {
	logger    *slog.Logger
	service   opnameService
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs opname handler.
func NewHandler(logger *slog.Logger, service opnameService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers opname routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/opname/sessions", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermOpnameView, shared.PermOpnameManage))
			r.Get("/", h.handleList)
			r.Get("/{sessionID}", h.handleGet)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermOpnameManage))
			r.Post("/", h.handleCreate)
			r.Post("/{sessionID}/details", h.handleAddDetail)
			r.Put("/{sessionID}/details/{variantID}", h.handleSetRealCount)
			r.Post("/{sessionID}/complete", h.handleComplete)
			r.Post("/{sessionID}/cancel", h.handleCancel)
		})
	})
}

type createSessionRequest struct {
	Date string `json:"opname_date" validate:"omitempty,datetime=2006-01-02"`
	Note string `json:"note" validate:"max=500"`
}

type addDetailRequest struct {
	VariantID int64 `json:"variant_id" validate:"required,gt=0"`
}

type realCountRequest struct {
	RealStock *int64 `json:"real_stock" validate:"required"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := CreateSessionInput{ActorID: actor.ID, Note: req.Note}
	if req.Date != "" {
		input.Date, _ = time.Parse("2006-01-02", req.Date)
	}
	session, err := h.service.CreateSession(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, session)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: Status(r.URL.Query().Get("status"))}
	if v := r.URL.Query().Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	sessions, err := h.service.ListSessions(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	session, err := h.service.GetSession(r.Context(), sessionID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleAddDetail(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	var req addDetailRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := h.service.AddDetail(r.Context(), sessionID, req.VariantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) handleSetRealCount(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	variantID, ok := pathID(w, r, "variantID")
	if !ok {
		return
	}
	var req realCountRequest
	if !h.decode(w, r, &req) {
		return
	}
	detail, err := h.service.SetRealCount(r.Context(), sessionID, variantID, *req.RealStock)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	session, err := h.service.CompleteSession(r.Context(), sessionID, actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	session, err := h.service.CancelSession(r.Context(), sessionID, actor.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, session)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("opname request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
