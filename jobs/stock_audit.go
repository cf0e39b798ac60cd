package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
)

// StockAuditor replays every variant's movement log.
type StockAuditor interface {
	AuditAll(ctx context.Context, fix bool) (ledger.AuditReport, error)
}

// StockAuditJob handles TaskStockAudit.
type StockAuditJob struct {
	Auditor StockAuditor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockAuditJob initialises the audit handler.
func NewStockAuditJob(auditor StockAuditor, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAuditJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockAuditJob{Auditor: auditor, Logger: logger, Metrics: metrics}
}

// Handle executes the audit.
func (j *StockAuditJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Auditor == nil {
		return errors.New("stock audit: handler not configured")
	}
	var payload StockAuditPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	start := time.Now()
	tracker := j.Metrics.Track(TaskStockAudit)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger.With(slog.Bool("fix", payload.Fix))
	report, err := j.Auditor.AuditAll(ctx, payload.Fix)
	if err != nil {
		logger.Error("stock audit failed", slog.Any("error", err))
		return err
	}
	for _, d := range report.Drifted {
		logger.Warn("stock drift detected",
			slog.Int64("variant_id", d.VariantID),
			slog.Int64("stored", d.Before),
			slog.Int64("replayed", d.After))
	}
	j.Metrics.AddDrift(len(report.Drifted))
	logger.Info("completed stock audit",
		slog.Int("checked", report.Checked),
		slog.Int("drifted", len(report.Drifted)),
		slog.Duration("duration", time.Since(start)))
	return nil
}
