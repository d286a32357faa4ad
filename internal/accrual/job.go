package accrual

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oppdrag/oppdrag/internal/shared"
	"github.com/oppdrag/oppdrag/jobs"
)

// Job processes accrual run tasks.
type Job struct {
	orchestrator *Orchestrator
	runs         Repository
	logger       *slog.Logger
	now          func() time.Time
}

// NewJob constructs a job handler.
func NewJob(orchestrator *Orchestrator, runs Repository, logger *slog.Logger) *Job {
	return &Job{orchestrator: orchestrator, runs: runs, logger: logger, now: time.Now}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.AccrualRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	if payload.EnsureScheduled {
		if err := j.ensureScheduled(ctx, payload); err != nil {
			return err
		}
	}

	err := j.orchestrator.Execute(ctx)
	switch {
	case errors.Is(err, ErrNoPendingRun):
		return nil
	case errors.Is(err, ErrRunBlocked):
		// An unrelated outage holds the exclusion token. Retrying
		// cannot help until an operator closes or relinks it.
		j.logger.Warn("accrual run blocked by open outage")
		return asynq.SkipRetry
	case err != nil:
		j.logger.Error("accrual run", slog.Any("error", err))
		return err
	}
	return nil
}

// ensureScheduled inserts a pending run when none exists, so the cron
// trigger is self-sufficient.
func (j *Job) ensureScheduled(ctx context.Context, payload jobs.AccrualRunPayload) error {
	_, pending, err := j.runs.NextPending(ctx)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	target := shared.YearMonthOf(j.now())
	if payload.TargetPeriod != "" {
		parsed, err := shared.ParseYearMonth(payload.TargetPeriod)
		if err != nil {
			return asynq.SkipRetry
		}
		target = parsed
	}
	_, err = j.runs.Insert(ctx, Run{
		RunDate:      j.now(),
		TargetPeriod: target,
		GenerateFile: payload.GenerateFile,
		TransmitFile: payload.TransmitFile,
	})
	return err
}
