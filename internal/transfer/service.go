package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/shared"
)

// OutageGate is the slice of the outage service the transfer cycle
// consults before touching the outside world.
type OutageGate interface {
	TransmissionBlocked(ctx context.Context) (bool, error)
}

// FlagGate reports whether the external ledger is in maintenance mode.
type FlagGate interface {
	MaintenanceActive(ctx context.Context) (bool, error)
}

// Service pushes untransmitted bookings to the ledger and reconciles
// confirmation state.
type Service struct {
	orders   order.Repository
	ledger   LedgerClient
	outages  OutageGate
	flags    FlagGate
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service.
func NewService(orders order.Repository, ledger LedgerClient, outages OutageGate, flags FlagGate, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		orders:   orders,
		ledger:   ledger,
		outages:  outages,
		flags:    flags,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SubmitOrders runs one transfer cycle for the given orders. The whole
// cycle is skipped while an outage is open or the ledger is in
// maintenance mode; individual orders are skipped when deferred or
// when a prior submission is still unconfirmed.
func (s *Service) SubmitOrders(ctx context.Context, orderIDs []int64) error {
	blocked, err := s.outages.TransmissionBlocked(ctx)
	if err != nil {
		return err
	}
	if blocked {
		s.logger.Info("transfer cycle skipped: outage open")
		return nil
	}
	maintenance, err := s.flags.MaintenanceActive(ctx)
	if err != nil {
		return err
	}
	if maintenance {
		s.logger.Info("transfer cycle skipped: ledger maintenance mode")
		return nil
	}

	orders, err := s.orders.ListOrders(ctx, orderIDs)
	if err != nil {
		return err
	}
	for _, ord := range orders {
		proceed, err := s.submitOrder(ctx, ord)
		if err != nil {
			return err
		}
		if !proceed {
			// Ledger unavailable or rejecting credentials: stop the
			// whole cycle, everything untouched retries next time.
			return nil
		}
	}
	return nil
}

// submitOrder processes one order. Returns false when the cycle as a
// whole must stop.
func (s *Service) submitOrder(ctx context.Context, ord order.Order) (bool, error) {
	if ord.Deferred(s.now()) {
		return true, nil
	}

	bookings, err := s.orders.ListBookings(ctx, ord.ID)
	if err != nil {
		return false, err
	}

	clear, err := s.reconcileOutstanding(ctx, ord, bookings)
	if err != nil {
		return false, err
	}
	if !clear {
		return true, nil
	}

	pending, err := s.orders.ListUntransmittedBookings(ctx, ord.ID)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return true, nil
	}

	periods, err := s.orders.ListPeriods(ctx, ord.ID)
	if err != nil {
		return false, err
	}
	periodByID := make(map[int64]order.OrderPeriod, len(periods))
	for _, p := range periods {
		periodByID[p.ID] = p
	}
	for _, b := range pending {
		if _, ok := periodByID[b.OrderPeriodID]; !ok {
			return false, fmt.Errorf("%w: booking %d references period %d", ErrMissingPeriod, b.ID, b.OrderPeriodID)
		}
	}

	for _, batch := range groupByDecision(ord, pending, periodByID) {
		cont, err := s.submitBatch(ctx, ord, batch)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// reconcileOutstanding re-checks a prior unconfirmed submission.
// Returns false when the order must be skipped this cycle: never
// submit new bookings while an earlier submission is in limbo.
func (s *Service) reconcileOutstanding(ctx context.Context, ord order.Order, bookings []order.Booking) (bool, error) {
	var outstanding []order.Booking
	for _, b := range bookings {
		if b.AwaitingConfirmation() {
			outstanding = append(outstanding, b)
		}
	}
	if len(outstanding) == 0 {
		return true, nil
	}

	ref := ""
	for _, b := range outstanding {
		if b.BatchRef != nil {
			ref = *b.BatchRef
		}
	}
	if ref == "" {
		// Run-stamped bookings carry no batch reference and are
		// confirmed in bulk; anything else in this state needs an
		// operator.
		s.notifier.Notify(ctx, "unconfirmed booking without batch reference",
			fmt.Sprintf("order %d has %d unconfirmed bookings", ord.ID, len(outstanding)))
		return false, nil
	}

	resp, err := s.ledger.CheckBatch(ctx, ref)
	if err != nil {
		s.logger.Warn("confirmation lookup failed", slog.Int64("order_id", ord.ID), slog.Any("error", err))
		return false, nil
	}

	ids := bookingIDs(outstanding)
	switch resp.State {
	case ConfirmDone:
		err := s.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
			return tx.StampConfirmed(ctx, ids, s.now())
		})
		return err == nil, err
	case ConfirmFailed:
		s.notifier.Notify(ctx, "ledger rejected batch",
			fmt.Sprintf("order %d batch %s: %s", ord.ID, ref, strings.Join(resp.Errors, "; ")))
		// The failed bookings return to the pending pool so the fixed
		// data is resubmitted before anything newer.
		err := s.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
			return tx.ResetTransmission(ctx, ids)
		})
		return err == nil, err
	default:
		return false, nil
	}
}

// submitBatch sends one decision's batch. Returns false when the cycle
// must stop (ledger down or unauthorized).
func (s *Service) submitBatch(ctx context.Context, ord order.Order, batch Batch) (bool, error) {
	resp, err := s.ledger.Submit(ctx, batch)
	if err != nil {
		// Transient network failure: stop, retry next cycle.
		s.logger.Warn("batch submission failed", slog.Int64("order_id", ord.ID), slog.Any("error", err))
		return false, nil
	}
	switch resp.Outcome {
	case OutcomeAccepted:
		ids := make([]int64, len(batch.Bookings))
		for i, b := range batch.Bookings {
			ids[i] = b.BookingID
		}
		err := s.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
			return tx.StampTransmitted(ctx, ids, resp.BatchRef, s.now())
		})
		if err != nil {
			return false, err
		}
		s.logger.Info("batch accepted", slog.Int64("order_id", ord.ID), slog.Int64("decision_id", batch.DecisionID), slog.String("batch_ref", resp.BatchRef))
		return true, nil
	case OutcomeValidationRejected:
		// Data error: drop the batch, surface it, never auto-retry.
		s.notifier.Notify(ctx, "batch validation rejected",
			fmt.Sprintf("order %d decision %d: %s", ord.ID, batch.DecisionID, resp.Message))
		return false, nil
	default:
		s.logger.Info("ledger not accepting submissions", slog.Int("outcome", int(resp.Outcome)))
		return false, nil
	}
}

// groupByDecision builds one batch per decision, oldest decision
// first. The ledger must see earlier decisions before later ones.
func groupByDecision(ord order.Order, pending []order.Booking, periodByID map[int64]order.OrderPeriod) []Batch {
	groups := make(map[int64][]order.Booking)
	for _, b := range pending {
		groups[b.DecisionID] = append(groups[b.DecisionID], b)
	}
	decisionIDs := make([]int64, 0, len(groups))
	for id := range groups {
		decisionIDs = append(decisionIDs, id)
	}
	sort.Slice(decisionIDs, func(i, j int) bool { return decisionIDs[i] < decisionIDs[j] })

	batches := make([]Batch, 0, len(decisionIDs))
	for _, decisionID := range decisionIDs {
		batch := Batch{
			DecisionID: decisionID,
			OrderID:    ord.ID,
			CaseID:     ord.CaseID,
			PayerID:    ord.PayerID,
			PayeeID:    ord.PayeeID,
		}
		for _, b := range groups[decisionID] {
			p := periodByID[b.OrderPeriodID]
			amount := p.Amount
			if shared.ReversesSign(b.Code) {
				amount = amount.Neg()
			}
			batch.Bookings = append(batch.Bookings, BatchBooking{
				BookingID:         b.ID,
				Code:              b.Code,
				Classification:    b.Classification,
				Application:       b.Application,
				Amount:            amount,
				Currency:          p.Currency,
				Period:            b.Period.String(),
				DecisionDate:      p.DecisionDate,
				Author:            p.Author,
				ExternalReference: p.ExternalReference,
				SubBenefitID:      p.SubBenefitID,
			})
		}
		batches = append(batches, batch)
	}
	return batches
}

func bookingIDs(bookings []order.Booking) []int64 {
	ids := make([]int64, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	return ids
}
