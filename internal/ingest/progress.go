package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Job statuses written to the progress sink.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultProgressTTL bounds how long a job status stays pollable.
const DefaultProgressTTL = 24 * time.Hour

// ErrJobNotFound indicates an unknown or expired job id.
var ErrJobNotFound = fmt.Errorf("ingest: job: %w", shared.ErrNotFound)

// Progress is the pollable status of one job.
type Progress struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Total        int       `json:"total"`
	Processed    int       `json:"processed"`
	Imported     int       `json:"imported"`
	Skipped      int       `json:"skipped"`
	FailedChunks int       `json:"failed_chunks"`
	Percent      float64   `json:"percent"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p *Progress) apply(r Result) {
	p.Imported = r.Imported
	p.Skipped = r.Skipped
	p.FailedChunks = r.FailedChunks
	p.Processed = r.Imported + r.Skipped
	if p.Total > 0 {
		p.Percent = float64(p.Processed) * 100 / float64(p.Total)
	} else {
		p.Percent = 100
	}
}

// ProgressSink stores job progress for a separate status poll.
type ProgressSink interface {
	Report(ctx context.Context, p Progress) error
}

// RedisSink keeps progress under a job-scoped key with a bounded TTL.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSink constructs RedisSink. A non-positive ttl selects DefaultProgressTTL.
func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	return &RedisSink{client: client, ttl: ttl, prefix: "ingest:job:"}
}

// Key returns the redis key of a job.
func (s *RedisSink) Key(jobID string) string {
	return s.prefix + jobID
}

// Report implements ProgressSink.
func (s *RedisSink) Report(ctx context.Context, p Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.Key(p.JobID), payload, s.ttl).Err()
}

// Status reads the latest progress of a job.
func (s *RedisSink) Status(ctx context.Context, jobID string) (Progress, error) {
	payload, err := s.client.Get(ctx, s.Key(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, ErrJobNotFound
		}
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal(payload, &p); err != nil {
		return Progress{}, fmt.Errorf("ingest: decode progress: %w", err)
	}
	return p, nil
}
