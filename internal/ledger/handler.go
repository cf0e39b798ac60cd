package ledger

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

type ledgerService interface {
	Record(ctx context.Context, input RecordInput) (Movement, error)
	CurrentStock(ctx context.Context, variantID int64) (int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	Rebuild(ctx context.Context, variantID int64) (RebuildResult, error)
	AuditAll(ctx context.Context, fix bool) (AuditReport, error)
	Void(ctx context.Context, movementID, actorID int64, reason string) (Movement, error)
}

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   ledgerService
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service ledgerService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermStockView))
		r.Get("/stock/variants/{variantID}", h.handleCurrentStock)
		r.Get("/stock/variants/{variantID}/movements", h.handleListMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockRecord))
		r.Post("/stock/movements", h.handleRecord)
		r.Post("/stock/movements/{movementID}/void", h.handleVoid)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermStockAudit))
		r.Post("/stock/variants/{variantID}/rebuild", h.handleRebuild)
		r.Post("/stock/audit", h.handleAudit)
	})
}

type recordRequest struct {
	VariantID int64  `json:"variant_id" validate:"required,gt=0"`
	Kind      string `json:"kind" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Quantity  int64  `json:"quantity" validate:"required"`
	Note      string `json:"note" validate:"max=500"`
	RefModule string `json:"ref_module" validate:"max=32"`
	RefID     string `json:"ref_id" validate:"max=64"`
}

type voidRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type stockResponse struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	m, err := h.service.Record(r.Context(), RecordInput{
		VariantID:      req.VariantID,
		Kind:           MovementKind(req.Kind),
		Quantity:       req.Quantity,
		Note:           req.Note,
		ActorID:        actor.ID,
		RefModule:      req.RefModule,
		RefID:          req.RefID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) handleCurrentStock(w http.ResponseWriter, r *http.Request) {
	variantID, ok := h.pathID(w, r, "variantID")
	if !ok {
		return
	}
	qty, err := h.service.CurrentStock(r.Context(), variantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{VariantID: variantID, Quantity: qty})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	variantID, ok := h.pathID(w, r, "variantID")
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{
		VariantID:     variantID,
		Kind:          MovementKind(q.Get("kind")),
		IncludeVoided: q.Get("include_voided") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be an integer")
			return
		}
		filter.Limit = limit
	}
	for param, target := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be RFC3339")
			return
		}
		*target = parsed
	}
	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	movementID, ok := h.pathID(w, r, "movementID")
	if !ok {
		return
	}
	var req voidRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	reversal, err := h.service.Void(r.Context(), movementID, actor.ID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, reversal)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	variantID, ok := h.pathID(w, r, "variantID")
	if !ok {
		return
	}
	result, err := h.service.Rebuild(r.Context(), variantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"variant_id": result.VariantID,
		"before":     result.Before,
		"after":      result.After,
		"drifted":    result.Drifted(),
	})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AuditAll(r.Context(), r.URL.Query().Get("fix") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
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

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("ledger request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
