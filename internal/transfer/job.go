package transfer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/jobs"
)

// Job processes transfer cycle tasks.
type Job struct {
	service *Service
	orders  order.Repository
	logger  *slog.Logger
}

// NewJob constructs a job handler.
func NewJob(service *Service, orders order.Repository, logger *slog.Logger) *Job {
	return &Job{service: service, orders: orders, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. An empty order list
// means every order with pending bookings.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.TransferCyclePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	ids := payload.OrderIDs
	if len(ids) == 0 {
		var err error
		ids, err = j.orders.ListOrderIDsWithPending(ctx)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := j.service.SubmitOrders(ctx, ids); err != nil {
		j.logger.Error("transfer cycle", slog.Any("error", err))
		return err
	}
	return nil
}
