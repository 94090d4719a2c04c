package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatusRefresh rewrites stored member statuses once future-dated transitions take effect.
	TaskStatusRefresh = "lifecycle:status_refresh"
	// TaskIdempotencyCleanup drops expired Idempotency-Key claims.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// StatusRefreshPayload bounds the effective-date window scanned by a refresh run.
type StatusRefreshPayload struct {
	LookbackDays int `json:"lookback_days"`
}

// NewStatusRefreshTask constructs an Asynq task. A non-positive lookback scans
// yesterday and today.
func NewStatusRefreshTask(lookbackDays int) (*asynq.Task, error) {
	if lookbackDays <= 0 {
		lookbackDays = 1
	}
	body, err := json.Marshal(StatusRefreshPayload{LookbackDays: lookbackDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatusRefresh, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention in whole seconds.
type IdempotencyCleanupPayload struct {
	RetentionSeconds int64 `json:"retention_seconds"`
}

// NewIdempotencyCleanupTask constructs a cleanup task. Retention below one hour is
// raised to one hour so in-flight retries keep their keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	if retention < time.Hour {
		retention = time.Hour
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
