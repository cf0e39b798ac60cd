package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/courier"
	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)

	ledgerService := ledger.NewService(ledger.NewRepository(pool, cfg.LedgerLockTimeout), ledger.ServiceConfig{
		Audit:            shared.NewAuditLogger(pool),
		Logger:           logger,
		AuditConcurrency: cfg.LedgerAuditWorkers,
	})
	importer := courier.NewImporter(
		ingest.NewPgRunner(pool),
		ingest.NewRedisSink(redisClient, cfg.IngestProgressTTL),
		cfg.IngestChunkSize,
		logger,
	)

	importJob := jobs.NewCourierImportJob(importer, logger, metrics)
	auditJob := jobs.NewStockAuditJob(ledgerService, logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{Cleaner: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: metrics}

	auditTask, err := jobs.NewStockAuditTask(jobs.StockAuditPayload{Fix: cfg.StockAuditFix})
	if err != nil {
		logger.Error("build stock audit task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCourierImport, Handler: importJob.Handle},
			{Type: jobs.TaskStockAudit, Handler: auditJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StockAuditCron, Task: auditTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
