package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// RateImporter runs one courier rate import.
type RateImporter interface {
	Import(ctx context.Context, jobID, path string) (ingest.Result, error)
}

// CourierImportJob handles TaskCourierImport.
type CourierImportJob struct {
	Importer RateImporter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewCourierImportJob initialises the import handler.
func NewCourierImportJob(importer RateImporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *CourierImportJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CourierImportJob{Importer: importer, Logger: logger, Metrics: metrics}
}

// Handle executes the import.
func (j *CourierImportJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Importer == nil {
		return errors.New("courier import: handler not configured")
	}
	var payload CourierImportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.JobID == "" || payload.Path == "" {
		return fmt.Errorf("courier import: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskCourierImport)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger.With(slog.String("job_id", payload.JobID))
	logger.Info("starting courier import")
	res, err := j.Importer.Import(ctx, payload.JobID, payload.Path)
	j.Metrics.AddIngest(res.Imported, res.Skipped, res.FailedChunks)
	if err != nil {
		logger.Error("courier import failed", slog.Any("error", err))
		return fmt.Errorf("courier import %s: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	logger.Info("completed courier import",
		slog.Int("total", res.Total),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed_chunks", res.FailedChunks))
	return nil
}
