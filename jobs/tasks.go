package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReportWarmup precomputes a variance report after counting closes.
	TaskReportWarmup = "recon:report_warmup"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// ReportWarmupPayload identifies the report to precompute.
type ReportWarmupPayload struct {
	InventoryID      int64   `json:"inventory_id"`
	ThresholdPercent float64 `json:"threshold_percent"`
}

// NewReportWarmupTask constructs an Asynq task.
func NewReportWarmupTask(payload ReportWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// IdempotencyCleaner removes stale idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes keys older than the retention window.
type IdempotencyCleanupJob struct {
	store     IdempotencyCleaner
	retention time.Duration
	logger    *slog.Logger
}

// NewIdempotencyCleanupJob constructs a cleanup handler.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{store: store, retention: retention, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	removed, err := j.store.Cleanup(ctx, j.retention)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("idempotency cleanup", slog.Any("error", err))
		}
		return err
	}
	if j.logger != nil && removed > 0 {
		j.logger.Info("idempotency cleanup", slog.Int64("removed", removed))
	}
	return nil
}
