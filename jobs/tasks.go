package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccrualRun claims and executes the next pending accrual run.
	TaskAccrualRun = "accrual:run"
	// TaskTransferCycle submits pending bookings to the external ledger.
	TaskTransferCycle = "transfer:cycle"
)

// AccrualRunPayload parameterises an accrual run execution.
type AccrualRunPayload struct {
	// EnsureScheduled schedules a run for TargetPeriod when no run is
	// pending. Used by the cron trigger.
	EnsureScheduled bool   `json:"ensureScheduled"`
	TargetPeriod    string `json:"targetPeriod,omitempty"`
	GenerateFile    bool   `json:"generateFile"`
	TransmitFile    bool   `json:"transmitFile"`
}

// NewAccrualRunTask constructs an accrual run task.
func NewAccrualRunTask(payload AccrualRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccrualRun, data), nil
}

// TransferCyclePayload lists the orders to submit. An empty list means
// every order with pending bookings.
type TransferCyclePayload struct {
	OrderIDs []int64 `json:"orderIds"`
}

// NewTransferCycleTask constructs a transfer cycle task.
func NewTransferCycleTask(payload TransferCyclePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransferCycle, data), nil
}

// Enqueuer submits jobs to the queue. Satisfied by Client; HTTP
// handlers depend on this interface so tests can fake it.
type Enqueuer interface {
	EnqueueAccrualRun(ctx context.Context, payload AccrualRunPayload) error
	EnqueueTransferCycle(ctx context.Context, payload TransferCyclePayload) error
}
