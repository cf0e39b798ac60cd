package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

// TaskIdempotencyCleanup purges expired idempotency keys.
const TaskIdempotencyCleanup = "idempotency:cleanup"

// DefaultIdempotencyRetention is how long a replay key blocks duplicates.
const DefaultIdempotencyRetention = 72 * time.Hour

// IdempotencyCleanupPayload carries the retention window.
type IdempotencyCleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewIdempotencyCleanupTask constructs the purge task. A non-positive
// retention selects DefaultIdempotencyRetention.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		olderThan = DefaultIdempotencyRetention
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleaner deletes keys older than a cutoff.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob handles TaskIdempotencyCleanup.
type IdempotencyCleanupJob struct {
	Cleaner IdempotencyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle executes the purge.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Cleaner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	payload := IdempotencyCleanupPayload{OlderThan: DefaultIdempotencyRetention}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.OlderThan <= 0 {
		payload.OlderThan = DefaultIdempotencyRetention
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err := j.Cleaner.Cleanup(ctx, payload.OlderThan); err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("idempotency keys purged", slog.Duration("older_than", payload.OlderThan))
	}
	return nil
}
