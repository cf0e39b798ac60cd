package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// BuildTask maps a job name to a task with its default payload. The
// "stock:audit:fix" alias runs the audit with correction enabled.
func BuildTask(name string) (*asynq.Task, error) {
	switch name {
	case jobs.TaskStockAudit:
		return jobs.NewStockAuditTask(jobs.StockAuditPayload{})
	case jobs.TaskStockAudit + ":fix":
		return jobs.NewStockAuditTask(jobs.StockAuditPayload{Fix: true})
	case jobs.TaskIdempotencyCleanup:
		return jobs.NewIdempotencyCleanupTask(0)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
}

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := BuildTask(name)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

// Operator is the subset of JobsCLI the command dispatcher needs.
type Operator interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
}

// Run executes "trigger <job>" or "stats" and returns the process exit code.
func Run(ctx context.Context, op Operator, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: jobs trigger <stock:audit|stock:audit:fix|idempotency:cleanup> | jobs stats")
		return 2
	}
	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			fmt.Fprintln(stderr, "usage: jobs trigger <job>")
			return 2
		}
		info, err := op.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(stderr, "trigger %s: %v\n", args[1], err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := op.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "stats: %v\n", err)
			return 1
		}
		_ = json.NewEncoder(stdout).Encode(stats)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
}
