package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/courier"
	"github.com/odyssey-erp/odyssey-stock/internal/ingest"
	"github.com/odyssey-erp/odyssey-stock/internal/ledger"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/opname"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/reservation"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(os.Args[2:]))
	}
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	authorizer, err := app.NewAuthorizer(cfg)
	if err != nil {
		logger.Error("init authorizer", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Authorizer: authorizer, Logger: logger}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	ledgerService := ledger.NewService(ledger.NewRepository(dbpool, cfg.LedgerLockTimeout), ledger.ServiceConfig{
		Audit:            auditLogger,
		Idempotency:      idempotencyStore,
		Metrics:          metrics.Stock(),
		Logger:           logger,
		AuditConcurrency: cfg.LedgerAuditWorkers,
	})
	opnameService := opname.NewService(opname.NewRepository(dbpool, cfg.LedgerLockTimeout), ledgerService, opname.Config{
		Policy: cfg.SnapshotPolicy(),
		Audit:  auditLogger,
		Logger: logger,
	})
	reservationService := reservation.NewService(reservation.NewRepository(dbpool, cfg.LedgerLockTimeout), ledgerService, reservation.Config{
		Audit:  auditLogger,
		Logger: logger,
	})

	progressSink := ingest.NewRedisSink(redisClient, cfg.IngestProgressTTL)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Handlers: []app.RouteMounter{
			ledger.NewHandler(logger, ledgerService, rbacMiddleware),
			opname.NewHandler(logger, opnameService, rbacMiddleware),
			reservation.NewHandler(logger, reservationService, rbacMiddleware),
			ingest.NewHandler(logger, progressSink, rbacMiddleware),
			courier.NewHandler(logger, jobClient, progressSink, rbacMiddleware, cfg.IngestUploadDir),
			jobs.NewHandler(inspector, logger),
		},
		Metrics: metrics,
		Ready: func(r *http.Request) error {
			if err := dbpool.Ping(r.Context()); err != nil {
				return err
			}
			return redisClient.Ping(r.Context()).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}

func runJobsCommand(args []string) int {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "127.0.0.1:6379"
	}
	ops, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		slog.Default().Error("init jobs cli", slog.Any("error", err))
		return 1
	}
	defer ops.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return cli.Run(ctx, ops, args, os.Stdout, os.Stderr)
}
