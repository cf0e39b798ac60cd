package reservation

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

type reservationService interface {
	ConfirmOrder(ctx context.Context, orderID, actorID int64) (Reservation, error)
	CancelOrder(ctx context.Context, orderID, actorID int64) (Reservation, error)
	GetReservation(ctx context.Context, orderID int64) (Reservation, error)
}

// Handler wires order stock reservation endpoints.
type Handler struct {
	logger  *slog.Logger
	service reservationService
	rbac    rbac.Middleware
}

// NewHandler constructs reservation handler.
func NewHandler(logger *slog.Logger, service reservationService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermOrdersReserve, shared.PermStockView))
		r.Get("/orders/{orderID}/stock", h.handleGet)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermOrdersReserve))
		r.Post("/orders/{orderID}/stock/confirm", h.handleConfirm)
		r.Post("/orders/{orderID}/stock/cancel", h.handleCancel)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	res, err := h.service.GetReservation(r.Context(), orderID)
	h.respond(w, r, res, err)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	res, err := h.service.ConfirmOrder(r.Context(), orderID, actor.ID)
	h.respond(w, r, res, err)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	res, err := h.service.CancelOrder(r.Context(), orderID, actor.ID)
	h.respond(w, r, res, err)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, res Reservation, err error) {
	if err != nil {
		if httpx.Status(err) >= http.StatusInternalServerError {
			h.logger.Error("reservation request", slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "orderID must be a positive integer")
		return 0, false
	}
	return id, true
}
