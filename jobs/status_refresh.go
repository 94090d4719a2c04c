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

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// StatusRefresher recomputes stored statuses for members with transitions in a window.
type StatusRefresher interface {
	RefreshDue(ctx context.Context, from, to time.Time) (int, error)
}

// StatusRefreshJob keeps members.current_status in line with the transition log.
type StatusRefreshJob struct {
	Refresher StatusRefresher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewStatusRefreshJob wires dependencies for the refresh handler.
func NewStatusRefreshJob(refresher StatusRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusRefreshJob {
	return &StatusRefreshJob{
		Refresher: refresher,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one refresh run.
func (j *StatusRefreshJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Refresher == nil {
		return errors.New("status refresh: dependencies not configured")
	}
	var payload StatusRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = 1
	}

	tracker := j.metrics().Track(TaskStatusRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	to := j.now()
	from := to.AddDate(0, 0, -payload.LookbackDays)
	start := time.Now()
	updated, err := j.Refresher.RefreshDue(ctx, from, to)
	j.metrics().AddRefreshed(updated)
	if err != nil {
		resultErr = err
		j.log().Error("refresh member statuses", slog.Int("updated", updated), slog.Any("error", err))
		return resultErr
	}
	j.log().Info("refreshed member statuses",
		slog.String("from", from.Format(time.DateOnly)),
		slog.String("to", to.Format(time.DateOnly)),
		slog.Int("updated", updated),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *StatusRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatusRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatusRefresh))
	}
	return slog.Default().With(slog.String("job", TaskStatusRefresh))
}

func (j *StatusRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *StatusRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
