package ingest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// StatusReader reads job progress.
type StatusReader interface {
	Status(ctx context.Context, jobID string) (Progress, error)
}

// Handler exposes the job status poll.
type Handler struct {
	logger *slog.Logger
	status StatusReader
	rbac   rbac.Middleware
}

// NewHandler constructs ingest handler.
func NewHandler(logger *slog.Logger, status StatusReader, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, status: status, rbac: rbac}
}

// MountRoutes registers ingest routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermIngestRun)).Get("/ingest/jobs/{jobID}", h.handleStatus)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	progress, err := h.status.Status(r.Context(), jobID)
	if err != nil {
		if httpx.Status(err) >= http.StatusInternalServerError {
			h.logger.Error("ingest status", slog.String("job_id", jobID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, progress)
}
