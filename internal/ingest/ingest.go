// Package ingest runs chunked, transactional bulk loads where a failing row
// is skipped without aborting the rows around it.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// DefaultChunkSize is used when Options.ChunkSize is not positive.
const DefaultChunkSize = 500

// maxRowErrors caps the row errors kept in Result.
const maxRowErrors = 50

// ErrChunkAborted marks a failure that invalidates the whole chunk transaction.
var ErrChunkAborted = errors.New("ingest: chunk aborted")

// Chunk isolates row work inside one chunk transaction. A row whose fn fails
// is rolled back alone; the chunk stays usable for the following rows.
type Chunk interface {
	Row(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error
}

// Runner opens one transaction per chunk and commits it when fn succeeds.
type Runner interface {
	InChunk(ctx context.Context, fn func(ctx context.Context, chunk Chunk) error) error
}

// RowProcessor loads one row through q.
type RowProcessor[T any] func(ctx context.Context, q db.Querier, row T) error

// Options tunes a single ingestion run.
type Options struct {
	JobID     string
	ChunkSize int
	Sink      ProgressSink
	Logger    *slog.Logger
	// SourcePath, when set, is removed once the run ends, successfully or not.
	SourcePath string
}

// RowError reports a skipped row by its zero-based index in the input.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result aggregates a run.
type Result struct {
	JobID        string     `json:"job_id"`
	Total        int        `json:"total"`
	Imported     int        `json:"imported"`
	Skipped      int        `json:"skipped"`
	FailedChunks int        `json:"failed_chunks"`
	Errors       []RowError `json:"errors,omitempty"`
}

// Ingest feeds rows to process in chunks of opts.ChunkSize. Row failures are
// counted as skipped. A chunk-level failure rolls back and skips that chunk
// only. Progress is reported after every chunk. The returned error is non-nil
// only when ctx ends the run early.
func Ingest[T any](ctx context.Context, runner Runner, rows []T, process RowProcessor[T], opts Options) (res Result, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := opts.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	res = Result{JobID: opts.JobID, Total: len(rows)}
	progress := Progress{JobID: opts.JobID, Status: StatusRunning, Total: len(rows)}

	defer func() {
		if opts.SourcePath != "" {
			if rmErr := os.Remove(opts.SourcePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("ingest cleanup source", slog.String("path", opts.SourcePath), slog.Any("error", rmErr))
			}
		}
	}()
	defer func() {
		progress.apply(res)
		progress.Status = StatusCompleted
		if err != nil {
			progress.Status = StatusFailed
			progress.Error = err.Error()
		}
		report(context.WithoutCancel(ctx), opts.Sink, progress, logger)
	}()

	report(ctx, opts.Sink, progress, logger)
	for start := 0; start < len(rows); start += size {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+size, len(rows))
		imported, skipped, chunkErr := runChunk(ctx, runner, rows[start:end], start, process, logger)
		if chunkErr != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.FailedChunks++
			res.Skipped += end - start
			res.addError(RowError{Index: start, Reason: fmt.Sprintf("chunk %d-%d: %v", start, end-1, chunkErr)})
			logger.Error("ingest chunk failed", slog.String("job_id", opts.JobID), slog.Int("from", start), slog.Int("to", end-1), slog.Any("error", chunkErr))
		} else {
			res.Imported += imported
			res.Skipped += len(skipped)
			for _, e := range skipped {
				res.addError(e)
			}
		}
		progress.apply(res)
		report(ctx, opts.Sink, progress, logger)
	}
	return res, nil
}

func runChunk[T any](ctx context.Context, runner Runner, rows []T, offset int, process RowProcessor[T], logger *slog.Logger) (int, []RowError, error) {
	var (
		imported int
		skipped  []RowError
	)
	err := runner.InChunk(ctx, func(ctx context.Context, chunk Chunk) error {
		imported, skipped = 0, nil
		for i, row := range rows {
			rowErr := chunk.Row(ctx, func(ctx context.Context, q db.Querier) (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("ingest: row panicked: %v", p)
					}
				}()
				return process(ctx, q, row)
			})
			if rowErr == nil {
				imported++
				continue
			}
			if errors.Is(rowErr, ErrChunkAborted) || ctx.Err() != nil {
				return rowErr
			}
			logger.Warn("ingest row skipped", slog.Int("row", offset+i), slog.Any("error", rowErr))
			skipped = append(skipped, RowError{Index: offset + i, Reason: rowErr.Error()})
		}
		return nil
	})
	return imported, skipped, err
}

func (r *Result) addError(e RowError) {
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, e)
	}
}

func report(ctx context.Context, sink ProgressSink, p Progress, logger *slog.Logger) {
	if sink == nil || p.JobID == "" {
		return
	}
	p.UpdatedAt = time.Now().UTC()
	if err := sink.Report(ctx, p); err != nil {
		logger.Warn("ingest progress report", slog.String("job_id", p.JobID), slog.Any("error", err))
	}
}
