package recon

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mensa-erp/mensa-erp/jobs"
)

// WarmupJob precomputes variance reports after counting completes so the
// first reviewer does not pay the computation cost.
type WarmupJob struct {
	reports *ReportProvider
	logger  *slog.Logger
}

// NewWarmupJob constructs a job handler.
func NewWarmupJob(reports *ReportProvider, logger *slog.Logger) *WarmupJob {
	return &WarmupJob{reports: reports, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *WarmupJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReportWarmupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.InventoryID == 0 {
		return asynq.SkipRetry
	}
	if _, err := j.reports.Report(ctx, payload.InventoryID, payload.ThresholdPercent); err != nil {
		if j.logger != nil {
			j.logger.Error("report warmup", slog.Int64("inventory_id", payload.InventoryID), slog.Any("error", err))
		}
		return err
	}
	return nil
}
