package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/romaneios/internal/locks"
	"github.com/odyssey-erp/romaneios/internal/romaneio"
	"github.com/odyssey-erp/romaneios/jobs"
)

// VerifyAllJob processes batch verification tasks.
type VerifyAllJob struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewVerifyAllJob constructs a job handler.
func NewVerifyAllJob(orchestrator *Orchestrator, logger *slog.Logger) *VerifyAllJob {
	return &VerifyAllJob{orchestrator: orchestrator, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *VerifyAllJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.VerifyAllPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	summary, err := j.orchestrator.RunAll(ctx)
	if err != nil {
		if j.logger != nil {
			j.logger.Error("verify all", slog.String("run_id", summary.RunID), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// VerifyOneJob processes on-demand verification tasks.
type VerifyOneJob struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

// NewVerifyOneJob constructs a job handler.
func NewVerifyOneJob(orchestrator *Orchestrator, logger *slog.Logger) *VerifyOneJob {
	return &VerifyOneJob{orchestrator: orchestrator, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. A busy record is retried,
// a missing one is dropped.
func (j *VerifyOneJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.VerifyOnePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RomaneioID == 0 {
		return asynq.SkipRetry
	}
	res, err := j.orchestrator.RunOne(ctx, payload.RomaneioID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, romaneio.ErrNotFound):
		return asynq.SkipRetry
	case errors.Is(err, locks.ErrBusy):
		return err
	}
	if j.logger != nil {
		j.logger.Error("verify romaneio", slog.Int64("romaneio_id", payload.RomaneioID), slog.String("outcome", string(res.Outcome)), slog.Any("error", err))
	}
	return err
}
