package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/clubroster/clubroster/internal/app"
	jobmetrics "github.com/clubroster/clubroster/internal/jobs"
	"github.com/clubroster/clubroster/jobs"
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

	rt, err := app.Bootstrap(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("close runtime", slog.Any("error", err))
		}
	}()
	if rt.Redis == nil {
		logger.Error("worker requires redis", slog.String("addr", cfg.RedisAddr))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	refreshJob := jobs.NewStatusRefreshJob(rt.Engine, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(rt.Idempotency, logger, metrics)

	refreshTask, err := jobs.NewStatusRefreshTask(cfg.StatusRefreshLookback)
	if err != nil {
		logger.Error("build status refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.Redis().Queue(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStatusRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.StatusRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker",
		slog.String("status_refresh_cron", cfg.StatusRefreshCron),
		slog.String("idempotency_cleanup_cron", cfg.IdempotencyCleanupCron),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
