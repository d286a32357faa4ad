package accrual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oppdrag/oppdrag/internal/booking"
	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/outage"
	"github.com/oppdrag/oppdrag/internal/shared"
)

const (
	defaultPartitionSize = 1000
	defaultWorkers       = 4
)

// OutageGate is the slice of the outage service the orchestrator needs.
type OutageGate interface {
	ClaimForRun(ctx context.Context, runID int64, reason string) (outage.Outage, error)
	CloseForRun(ctx context.Context, runID int64) error
}

// Orchestrator executes accrual runs: claim, generate, file, stamp,
// finalize. A failure at any stage aborts without closing the outage,
// leaving a durable needs-attention marker.
type Orchestrator struct {
	runs     Repository
	orders   order.Repository
	outages  OutageGate
	storage  Storage
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	partitionSize    int
	workers          int
	limitationMonths int
}

// OrchestratorConfig collects orchestrator dependencies.
type OrchestratorConfig struct {
	Runs     Repository
	Orders   order.Repository
	Outages  OutageGate
	Storage  Storage
	Notifier Notifier
	Logger   *slog.Logger

	PartitionSize    int
	Workers          int
	LimitationMonths int
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		runs:             cfg.Runs,
		orders:           cfg.Orders,
		outages:          cfg.Outages,
		storage:          cfg.Storage,
		notifier:         cfg.Notifier,
		logger:           cfg.Logger,
		now:              time.Now,
		partitionSize:    cfg.PartitionSize,
		workers:          cfg.Workers,
		limitationMonths: cfg.LimitationMonths,
	}
	if o.partitionSize <= 0 {
		o.partitionSize = defaultPartitionSize
	}
	if o.workers <= 0 {
		o.workers = defaultWorkers
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Logger: cfg.Logger}
	}
	return o
}

// WithNow overrides the clock for deterministic tests.
func (o *Orchestrator) WithNow(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// Execute claims and drives the next pending run to completion.
// Returns ErrNoPendingRun when nothing is scheduled and ErrRunBlocked
// when an unrelated outage holds the exclusion token.
func (o *Orchestrator) Execute(ctx context.Context) error {
	run, ok, err := o.runs.NextPending(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPendingRun
	}

	if _, err := o.outages.ClaimForRun(ctx, run.ID, fmt.Sprintf("accrual run %s", run.TargetPeriod)); err != nil {
		if errors.Is(err, outage.ErrOutageActive) {
			return ErrRunBlocked
		}
		return err
	}
	if err := o.runs.StampStarted(ctx, run.ID, o.now()); err != nil {
		return err
	}
	o.logger.Info("accrual run claimed", slog.Int64("run_id", run.ID), slog.String("target", run.TargetPeriod.String()))

	deferred, err := o.generateBookings(ctx, run)
	if err != nil {
		return fmt.Errorf("accrual: generate bookings: %w", err)
	}

	if run.GenerateFile {
		if err := o.generateFile(ctx, run); err != nil {
			return fmt.Errorf("accrual: generate file: %w", err)
		}
	}

	if err := o.bulkStamp(ctx, run); err != nil {
		return fmt.Errorf("accrual: bulk stamp: %w", err)
	}

	if err := o.regenerateDeferred(ctx, run, deferred); err != nil {
		return fmt.Errorf("accrual: regenerate deferred: %w", err)
	}

	if err := o.outages.CloseForRun(ctx, run.ID); err != nil {
		return fmt.Errorf("accrual: close outage: %w", err)
	}
	if err := o.runs.StampFinished(ctx, run.ID, o.now()); err != nil {
		return err
	}
	o.logger.Info("accrual run finished", slog.Int64("run_id", run.ID), slog.Int("deferred", len(deferred)))
	return nil
}

// generateBookings sweeps every order period lacking complete
// bookings, partitioned and processed concurrently. Periods whose
// order is deferred or has an unconfirmed transmission are collected
// and returned instead of being processed.
func (o *Orchestrator) generateBookings(ctx context.Context, run Run) ([]order.OrderPeriod, error) {
	backlog, err := o.orders.ListBacklogPeriods(ctx)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		deferred []order.OrderPeriod
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, part := range partition(backlog, o.partitionSize) {
		part := part
		g.Go(func() error {
			var skipped []order.OrderPeriod
			for _, p := range part {
				ok, err := o.processPeriod(gctx, run, p)
				if err != nil {
					return err
				}
				if !ok {
					skipped = append(skipped, p)
				}
			}
			if len(skipped) > 0 {
				mu.Lock()
				deferred = append(deferred, skipped...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return deferred, nil
}

// processPeriod generates bookings for one backlog period. Returns
// false when the period must be deferred to the finalizing pass.
func (o *Orchestrator) processPeriod(ctx context.Context, run Run, p order.OrderPeriod) (bool, error) {
	ord, err := o.orders.GetOrder(ctx, p.OrderID)
	if err != nil {
		return false, err
	}
	if ord.Deferred(run.RunDate) {
		return false, nil
	}
	existing, err := o.orders.ListBookings(ctx, p.OrderID)
	if err != nil {
		return false, err
	}
	for _, b := range existing {
		if b.AwaitingConfirmation() {
			return false, nil
		}
	}
	return true, o.generateFor(ctx, run, ord, p, existing)
}

// generateFor runs the booking generator for one period and persists
// the results, closing the period when its coverage is complete.
func (o *Orchestrator) generateFor(ctx context.Context, run Run, ord order.Order, p order.OrderPeriod, existing []order.Booking) error {
	// A bounded period whose end has passed the target period is
	// superseded by time itself.
	if p.SupersededUntil == nil && p.PeriodTo != nil {
		if last, ok := shared.LastCoveredMonth(p.PeriodTo); ok && !last.After(run.TargetPeriod) {
			p.SupersededUntil = p.PeriodTo
		}
	}

	generated := booking.Generate(booking.GenerateInput{
		Order:      ord,
		Period:     p,
		Existing:   existing,
		Horizon:    run.TargetPeriod,
		Limitation: run.TargetPeriod.AddMonths(-o.limitationMonths),
		RunPeriod:  run.TargetPeriod,
		Now:        o.now(),
		Flags:      booking.Flags{StampRunPeriod: true},
	})

	return o.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
		for _, b := range generated {
			if _, err := tx.InsertBooking(ctx, b); err != nil {
				if errors.Is(err, order.ErrDuplicateBooking) {
					continue
				}
				return err
			}
		}
		if p.SupersededUntil != nil {
			if err := tx.SetSupersededUntil(ctx, p.ID, *p.SupersededUntil); err != nil {
				return err
			}
		}
		if end, bounded := periodEndMonth(p); bounded && !end.After(run.TargetPeriod.Next()) {
			if err := tx.MarkBookingsGenerated(ctx, p.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// generateFile renders the pending booking population plus run
// metadata and hands the artifact to the storage boundary. Delivery is
// fire-and-forget: failures go to the operator channel, not back up
// the run.
func (o *Orchestrator) generateFile(ctx context.Context, run Run) error {
	pending, err := o.orders.ListAllUntransmittedBookings(ctx)
	if err != nil {
		return err
	}
	name, data := BuildFile(run, pending)
	if err := o.storage.Save(ctx, name, data); err != nil {
		o.notifier.Notify(ctx, "accrual file delivery failed",
			fmt.Sprintf("run %d, file %s: %v", run.ID, name, err))
		o.logger.Error("accrual file delivery", slog.Int64("run_id", run.ID), slog.Any("error", err))
		return nil
	}
	o.logger.Info("accrual file delivered", slog.Int64("run_id", run.ID), slog.String("file", name), slog.Int("bookings", len(pending)))
	return nil
}

// bulkStamp self-confirms every untransmitted booking in fixed-size
// batches. These bookings were carried by the run's file, so they are
// invisible to the external transfer cycle afterwards.
func (o *Orchestrator) bulkStamp(ctx context.Context, run Run) error {
	for {
		ids, err := o.orders.ListUntransmittedBookingIDs(ctx, o.partitionSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		err = o.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
			return tx.StampTransmittedConfirmed(ctx, ids, o.now())
		})
		if err != nil {
			return err
		}
	}
}

// regenerateDeferred gives skipped periods their bookings without any
// stamping, leaving them pending for the normal transfer cycle.
func (o *Orchestrator) regenerateDeferred(ctx context.Context, run Run, deferred []order.OrderPeriod) error {
	for _, p := range deferred {
		ord, err := o.orders.GetOrder(ctx, p.OrderID)
		if err != nil {
			return err
		}
		existing, err := o.orders.ListBookings(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if err := o.generateFor(ctx, run, ord, p, existing); err != nil {
			return err
		}
	}
	return nil
}

// periodEndMonth resolves the last month a period can ever owe, and
// false when the period is open-ended and unsuperseded.
func periodEndMonth(p order.OrderPeriod) (shared.YearMonth, bool) {
	var end shared.YearMonth
	bounded := false
	if last, ok := shared.LastCoveredMonth(p.PeriodTo); ok {
		end = last
		bounded = true
	}
	if p.SupersededUntil != nil {
		cut := shared.YearMonthOf(*p.SupersededUntil).AddMonths(-1)
		if !bounded || cut.Before(end) {
			end = cut
		}
		bounded = true
	}
	return end, bounded
}

func partition(periods []order.OrderPeriod, size int) [][]order.OrderPeriod {
	var parts [][]order.OrderPeriod
	for start := 0; start < len(periods); start += size {
		end := start + size
		if end > len(periods) {
			end = len(periods)
		}
		parts = append(parts, periods[start:end])
	}
	return parts
}
