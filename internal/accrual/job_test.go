package accrual

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/oppdrag/oppdrag/internal/outage"
	"github.com/oppdrag/oppdrag/internal/shared"
	"github.com/oppdrag/oppdrag/jobs"
)

func newTestJob(f *fixture) *Job {
	j := NewJob(f.orch, f.runs, slog.Default())
	j.now = func() time.Time { return date(2022, 7, 1) }
	return j
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	j := newTestJob(f)

	err := j.Handle(context.Background(), asynq.NewTask(jobs.TaskAccrualRun, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSchedulesAndExecutes(t *testing.T) {
	f := newFixture(t)
	f.seedBoundedPeriod(t)
	j := newTestJob(f)

	task, err := jobs.NewAccrualRunTask(jobs.AccrualRunPayload{EnsureScheduled: true, TargetPeriod: "2022-06"})
	require.NoError(t, err)
	require.NoError(t, j.Handle(context.Background(), task))

	runs, err := f.runs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, shared.YM(2022, time.June), runs[0].TargetPeriod)
	require.NotNil(t, runs[0].FinishedAt)
}

func TestHandleKeepsExistingPendingRun(t *testing.T) {
	f := newFixture(t)
	existing := f.scheduleRun(t, shared.YM(2022, time.May), false)
	j := newTestJob(f)

	task, err := jobs.NewAccrualRunTask(jobs.AccrualRunPayload{EnsureScheduled: true, TargetPeriod: "2022-06"})
	require.NoError(t, err)
	require.NoError(t, j.Handle(context.Background(), task))

	runs, err := f.runs.List(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, existing.ID, runs[0].ID)
}

func TestHandleNoPendingRunIsNoop(t *testing.T) {
	f := newFixture(t)
	j := newTestJob(f)

	task, err := jobs.NewAccrualRunTask(jobs.AccrualRunPayload{})
	require.NoError(t, err)
	require.NoError(t, j.Handle(context.Background(), task))
}

func TestHandleBlockedRunSkipsRetry(t *testing.T) {
	f := newFixture(t)
	f.outages.claimErr = outage.ErrOutageActive
	f.scheduleRun(t, shared.YM(2022, time.June), false)
	j := newTestJob(f)

	task, err := jobs.NewAccrualRunTask(jobs.AccrualRunPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, j.Handle(context.Background(), task), asynq.SkipRetry)
}
