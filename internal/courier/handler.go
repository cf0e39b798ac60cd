package courier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const maxUploadBytes = 32 << 20

// ErrMissingFile indicates an upload without the file part.
var ErrMissingFile = fmt.Errorf("courier: file part required: %w", shared.ErrValidation)

// Enqueuer schedules an import job in the background worker.
type Enqueuer interface {
	EnqueueCourierImport(ctx context.Context, jobID, path string) error
}

// Handler accepts rate uploads.
type Handler struct {
	logger    *slog.Logger
	enqueuer  Enqueuer
	sink      ingest.ProgressSink
	rbac      rbac.Middleware
	uploadDir string
	newID     func() string
}

// NewHandler constructs the courier upload handler.
func NewHandler(logger *slog.Logger, enqueuer Enqueuer, sink ingest.ProgressSink, rbac rbac.Middleware, uploadDir string) *Handler {
	if uploadDir == "" {
		uploadDir = os.TempDir()
	}
	return &Handler{
		logger:    logger,
		enqueuer:  enqueuer,
		sink:      sink,
		rbac:      rbac,
		uploadDir: uploadDir,
		newID:     func() string { return uuid.NewString() },
	}
}

// MountRoutes registers courier routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermIngestRun)).Post("/ingest/courier-rates", h.handleUpload)
}

type uploadResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, ErrMissingFile)
		return
	}
	defer file.Close()

	jobID := h.newID()
	path, err := h.store(jobID, file)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.sink.Report(r.Context(), ingest.Progress{JobID: jobID, Status: ingest.StatusQueued, UpdatedAt: time.Now().UTC()}); err != nil {
		h.logger.Warn("courier queued progress", slog.String("job_id", jobID), slog.Any("error", err))
	}
	if err := h.enqueuer.EnqueueCourierImport(r.Context(), jobID, path); err != nil {
		_ = os.Remove(path)
		_ = h.sink.Report(r.Context(), ingest.Progress{JobID: jobID, Status: ingest.StatusFailed, Error: "enqueue failed", UpdatedAt: time.Now().UTC()})
		h.fail(w, err)
		return
	}
	h.logger.Info("courier import queued", slog.String("job_id", jobID))
	httpx.JSON(w, http.StatusAccepted, uploadResponse{JobID: jobID, Status: ingest.StatusQueued})
}

func (h *Handler) store(jobID string, src io.Reader) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		return "", fmt.Errorf("courier: upload dir: %w", err)
	}
	path := filepath.Join(h.uploadDir, jobID+".csv")
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("courier: create upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", fmt.Errorf("courier: upload too large: %w", shared.ErrValidation)
		}
		return "", fmt.Errorf("courier: write upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("courier: close upload: %w", err)
	}
	return path, nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.Error("courier upload", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
