package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
)

type stubImporter struct {
	jobID string
	path  string
	res   ingest.Result
	err   error
}

func (s *stubImporter) Import(_ context.Context, jobID, path string) (ingest.Result, error) {
	s.jobID, s.path = jobID, path
	return s.res, s.err
}

type stubAuditor struct {
	fix    bool
	report ledger.AuditReport
	err    error
}

func (s *stubAuditor) AuditAll(_ context.Context, fix bool) (ledger.AuditReport, error) {
	s.fix = fix
	return s.report, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCourierImportTaskRoundTrip(t *testing.T) {
	task, err := NewCourierImportTask(CourierImportPayload{JobID: "job-1", Path: "/tmp/job-1.csv"})
	require.NoError(t, err)
	require.Equal(t, TaskCourierImport, task.Type())

	importer := &stubImporter{res: ingest.Result{Total: 10, Imported: 9, Skipped: 1}}
	job := NewCourierImportJob(importer, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "job-1", importer.jobID)
	require.Equal(t, "/tmp/job-1.csv", importer.path)
}

func TestCourierImportFailureSkipsRetry(t *testing.T) {
	task, err := NewCourierImportTask(CourierImportPayload{JobID: "job-2", Path: "/tmp/x.csv"})
	require.NoError(t, err)
	job := NewCourierImportJob(&stubImporter{err: errors.New("header missing")}, quietLogger(), nil)

	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskCourierImport, []byte(`{"job_id":""}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestStockAuditTaskPassesFix(t *testing.T) {
	task, err := NewStockAuditTask(StockAuditPayload{Fix: true})
	require.NoError(t, err)
	auditor := &stubAuditor{report: ledger.AuditReport{Checked: 3, Drifted: []ledger.RebuildResult{{VariantID: 7, Before: 5, After: 4}}, Fixed: true}}
	job := NewStockAuditJob(auditor, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, auditor.fix)

	// Cron tasks may carry an empty payload.
	auditor.fix = true
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskStockAudit, nil)))
	require.False(t, auditor.fix)
}

func TestStockAuditPropagatesError(t *testing.T) {
	boom := errors.New("db down")
	job := NewStockAuditJob(&stubAuditor{err: boom}, quietLogger(), nil)
	task, err := NewStockAuditTask(StockAuditPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, quietLogger()).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body.Queue)
}

type stubCleaner struct {
	olderThan time.Duration
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) error {
	s.olderThan = olderThan
	return nil
}

func TestIdempotencyCleanupDefaults(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	cleaner := &stubCleaner{}
	job := &IdempotencyCleanupJob{Cleaner: cleaner, Logger: quietLogger()}

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.olderThan)
}
