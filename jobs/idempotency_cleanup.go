package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clubroster/clubroster/internal/jobs"
)

// KeyPruner deletes idempotency keys created before now minus olderThan.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Pruner  KeyPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires dependencies for the cleanup handler.
func NewIdempotencyCleanupJob(pruner KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	return &IdempotencyCleanupJob{Pruner: pruner, Logger: logger.With(slog.String("job", TaskIdempotencyCleanup)), Metrics: metrics}
}

// Handle executes one cleanup run.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Pruner == nil {
		return errors.New("idempotency cleanup: dependencies not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.RetentionSeconds <= 0 {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.RetentionSeconds) * time.Second

	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Pruner.Cleanup(ctx, retention)
	if err != nil {
		j.Logger.Error("prune idempotency keys", slog.Any("error", err))
		return err
	}
	j.Logger.Info("pruned idempotency keys", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return nil
}
