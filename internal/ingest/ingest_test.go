package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// memRunner commits a chunk's staged rows only when the chunk succeeds, and a
// row only when its own function succeeds.
type memRunner struct {
	committed []int
	chunks    int
	failChunk int
}

type memChunk struct {
	staged []int
}

func (c *memChunk) Row(ctx context.Context, fn func(ctx context.Context, q db.Querier) error) error {
	return fn(ctx, nil)
}

func (r *memRunner) InChunk(ctx context.Context, fn func(ctx context.Context, chunk Chunk) error) error {
	r.chunks++
	chunk := &memChunk{}
	ctx = context.WithValue(ctx, chunkKey{}, chunk)
	if err := fn(ctx, chunk); err != nil {
		return err
	}
	if r.chunks == r.failChunk {
		return errors.New("commit: connection reset")
	}
	r.committed = append(r.committed, chunk.staged...)
	return nil
}

type chunkKey struct{}

func stage(ctx context.Context, v int) {
	chunk := ctx.Value(chunkKey{}).(*memChunk)
	chunk.staged = append(chunk.staged, v)
}

type recordingSink struct {
	mu      sync.Mutex
	reports []Progress
}

func (s *recordingSink) Report(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, p)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rowsWithMalformed(n int, bad ...int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i + 1
	}
	for _, b := range bad {
		rows[b] = -rows[b]
	}
	return rows
}

func process(ctx context.Context, _ db.Querier, v int) error {
	if v < 0 {
		return fmt.Errorf("row %d: malformed", -v)
	}
	stage(ctx, v)
	return nil
}

func TestIngestSkipsMalformedRowsWithoutAbortingChunks(t *testing.T) {
	runner := &memRunner{}
	sink := &recordingSink{}
	rows := rowsWithMalformed(1000, 10, 499, 750)

	res, err := Ingest(context.Background(), runner, rows, process, Options{JobID: "job-1", ChunkSize: 500, Sink: sink, Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 997, res.Imported)
	require.Equal(t, 3, res.Skipped)
	require.Zero(t, res.FailedChunks)
	require.Equal(t, 2, runner.chunks)
	require.Len(t, runner.committed, 997)
	require.Len(t, res.Errors, 3)
	require.Equal(t, 499, res.Errors[1].Index)

	// initial, one per chunk, final
	require.Len(t, sink.reports, 4)
	require.Equal(t, StatusRunning, sink.reports[0].Status)
	require.InDelta(t, 50.0, sink.reports[1].Percent, 0.001)
	final := sink.reports[len(sink.reports)-1]
	require.Equal(t, StatusCompleted, final.Status)
	require.Equal(t, 997, final.Imported)
	require.Equal(t, 3, final.Skipped)
	require.InDelta(t, 100.0, final.Percent, 0.001)
}

func TestIngestChunkFailureOnlyAbortsThatChunk(t *testing.T) {
	runner := &memRunner{failChunk: 2}
	rows := rowsWithMalformed(25)

	res, err := Ingest(context.Background(), runner, rows, process, Options{ChunkSize: 10, Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 3, runner.chunks)
	require.Equal(t, 1, res.FailedChunks)
	require.Equal(t, 15, res.Imported)
	require.Equal(t, 10, res.Skipped)
	require.Len(t, runner.committed, 15)
	require.Equal(t, 21, runner.committed[10], "third chunk still commits")
}

func TestIngestIsolatesPanickingRow(t *testing.T) {
	runner := &memRunner{}
	rows := rowsWithMalformed(12)
	var seen map[int]bool
	panicky := func(ctx context.Context, q db.Querier, v int) error {
		if v == 7 {
			seen[v] = true
		}
		return process(ctx, q, v)
	}

	res, err := Ingest(context.Background(), runner, rows, panicky, Options{ChunkSize: 5, Logger: quietLogger()})
	require.NoError(t, err)
	require.Equal(t, 3, runner.chunks)
	require.Zero(t, res.FailedChunks)
	require.Equal(t, 11, res.Imported)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, runner.committed, 11)
	require.Equal(t, 6, res.Errors[0].Index)
	require.Contains(t, res.Errors[0].Reason, "panicked")
}

func TestIngestStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &recordingSink{}
	res, err := Ingest(ctx, &memRunner{}, rowsWithMalformed(10), process, Options{JobID: "job-x", ChunkSize: 5, Sink: sink, Logger: quietLogger()})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, res.Imported)
	require.Equal(t, StatusFailed, sink.reports[len(sink.reports)-1].Status)
}

func TestIngestRemovesSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := Ingest(context.Background(), &memRunner{}, rowsWithMalformed(3), process, Options{ChunkSize: 2, SourcePath: path, Logger: quietLogger()})
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	path = filepath.Join(t.TempDir(), "rates.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Ingest(ctx, &memRunner{}, rowsWithMalformed(3), process, Options{SourcePath: path, Logger: quietLogger()})
	require.Error(t, err)
	_, statErr = os.Stat(path)
	require.ErrorIs(t, statErr, os.ErrNotExist, "source removed on failure too")
}

func TestRedisSinkRoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sink := NewRedisSink(client, 0)
	ctx := context.Background()

	_, err := sink.Status(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = Ingest(ctx, &memRunner{}, rowsWithMalformed(20, 4), process, Options{JobID: "job-9", ChunkSize: 8, Sink: sink, Logger: quietLogger()})
	require.NoError(t, err)

	p, err := sink.Status(ctx, "job-9")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, p.Status)
	require.Equal(t, 19, p.Imported)
	require.Equal(t, 1, p.Skipped)
	require.Equal(t, 24*time.Hour, mr.TTL(sink.Key("job-9")))

	mr.FastForward(25 * time.Hour)
	_, err = sink.Status(ctx, "job-9")
	require.ErrorIs(t, err, ErrJobNotFound)
}
