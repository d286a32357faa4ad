// Package decision ingests decision events: it creates and amends
// orders and their periods, derives corrections for already-reported
// months and seeds the new period's bookings up to the transmitted
// horizon.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/oppdrag/oppdrag/internal/booking"
	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/shared"
)

// HorizonSource provides the most recently fully-transmitted month.
type HorizonSource interface {
	LastFinishedTarget(ctx context.Context) (shared.YearMonth, bool, error)
}

// IngressGate blocks ingestion during suppressing outages.
type IngressGate interface {
	IngestionSuppressed(ctx context.Context) (bool, error)
}

// ErrIngestionSuppressed signals that an open outage blocks ingress.
var ErrIngestionSuppressed = errors.New("decision: ingestion suppressed by open outage")

// ErrInvalidCurrency signals an unknown ISO 4217 code.
var ErrInvalidCurrency = errors.New("decision: invalid currency code")

// Service processes decisions idempotently per decision id.
type Service struct {
	orders   order.Repository
	horizon  HorizonSource
	gate     IngressGate
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time

	limitationMonths int
}

// NewService constructs a Service.
func NewService(orders order.Repository, horizon HorizonSource, gate IngressGate, logger *slog.Logger, limitationMonths int) *Service {
	return &Service{
		orders:           orders,
		horizon:          horizon,
		gate:             gate,
		validate:         validator.New(),
		logger:           logger,
		now:              time.Now,
		limitationMonths: limitationMonths,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ProcessDecision applies one decision and returns the affected order
// id. Reprocessing a decision id is a no-op returning the original
// order id.
func (s *Service) ProcessDecision(ctx context.Context, d order.Decision) (int64, error) {
	if err := s.validateDecision(d); err != nil {
		return 0, err
	}

	suppressed, err := s.gate.IngestionSuppressed(ctx)
	if err != nil {
		return 0, err
	}
	if suppressed {
		return 0, ErrIngestionSuppressed
	}

	if orderID, ok, err := s.orders.LookupDecision(ctx, d.DecisionID); err != nil {
		return 0, err
	} else if ok {
		return orderID, nil
	}

	horizon, err := s.transmittedHorizon(ctx)
	if err != nil {
		return 0, err
	}

	orderID, err := s.apply(ctx, d, horizon)
	if errors.Is(err, order.ErrDecisionProcessed) {
		// Lost the race against a concurrent delivery of the same
		// decision; the winner's result stands.
		if id, ok, lookupErr := s.orders.LookupDecision(ctx, d.DecisionID); lookupErr == nil && ok {
			return id, nil
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}
	s.logger.Info("decision processed", slog.Int64("decision_id", d.DecisionID), slog.Int64("order_id", orderID))
	return orderID, nil
}

func (s *Service) validateDecision(d order.Decision) error {
	if err := s.validate.Struct(d); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	if err := d.Validate(); err != nil {
		return err
	}
	for _, p := range d.Periods {
		if _, err := currency.ParseISO(p.Currency); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, p.Currency)
		}
	}
	return nil
}

// transmittedHorizon is the target period of the last finished accrual
// run, falling back to the current month before any run has happened.
func (s *Service) transmittedHorizon(ctx context.Context) (shared.YearMonth, error) {
	horizon, ok, err := s.horizon.LastFinishedTarget(ctx)
	if err != nil {
		return shared.YearMonth{}, err
	}
	if !ok {
		return shared.YearMonthOf(s.now()), nil
	}
	return horizon, nil
}

func (s *Service) apply(ctx context.Context, d order.Decision, horizon shared.YearMonth) (int64, error) {
	now := s.now()

	ord, err := s.orders.FindOrder(ctx, string(d.Type), d.CaseID, d.PayerID, d.PayeeID)
	known := true
	if errors.Is(err, order.ErrNotFound) {
		known = false
	} else if err != nil {
		return 0, err
	}

	var allBookings []order.Booking
	var periods []order.OrderPeriod
	if known {
		if allBookings, err = s.orders.ListBookings(ctx, ord.ID); err != nil {
			return 0, err
		}
		if periods, err = s.orders.ListPeriods(ctx, ord.ID); err != nil {
			return 0, err
		}
	}

	err = s.orders.WithTx(ctx, func(ctx context.Context, tx order.TxRepository) error {
		if !known {
			ord = order.Order{
				Type:          d.Type,
				CaseID:        d.CaseID,
				PayerID:       d.PayerID,
				PayeeID:       d.PayeeID,
				BeneficiaryID: d.BeneficiaryID,
				DeferredUntil: d.DeferredUntil,
				UpdatedAt:     now,
			}
			id, err := tx.InsertOrder(ctx, ord)
			if err != nil {
				return err
			}
			ord.ID = id
		} else {
			if err := tx.UpdateOrderDeferral(ctx, ord.ID, d.DeferredUntil, now); err != nil {
				return err
			}
		}
		if err := tx.RecordDecision(ctx, d.DecisionID, ord.ID); err != nil {
			return err
		}

		entries := append([]order.DecisionPeriod(nil), d.Periods...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].From.Before(entries[j].From) })

		for _, entry := range entries {
			newPeriod, err := s.insertPeriod(ctx, tx, ord, d, entry, now)
			if err != nil {
				return err
			}

			// Supersede the previously active period: at most one
			// period per order stays open.
			for i := range periods {
				if periods[i].Active() {
					if err := tx.SetSupersededUntil(ctx, periods[i].ID, newPeriod.PeriodFrom); err != nil {
						return err
					}
					until := newPeriod.PeriodFrom
					periods[i].SupersededUntil = &until
				}
			}
			periods = append(periods, newPeriod)

			corrections := booking.DeriveCorrections(booking.CorrectionInput{
				NewPeriod: newPeriod,
				History:   allBookings,
				Now:       now,
			})
			if err := s.insertBookings(ctx, tx, corrections, &allBookings); err != nil {
				return err
			}

			generated := booking.Generate(booking.GenerateInput{
				Order:      ord,
				Period:     newPeriod,
				Existing:   allBookings,
				Horizon:    horizon,
				Limitation: horizon.AddMonths(-s.limitationMonths),
				Now:        now,
			})
			if err := s.insertBookings(ctx, tx, generated, &allBookings); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ord.ID, nil
}

func (s *Service) insertPeriod(ctx context.Context, tx order.TxRepository, ord order.Order, d order.Decision, entry order.DecisionPeriod, now time.Time) (order.OrderPeriod, error) {
	amount := decimal.Zero
	terminating := entry.Amount == nil
	if !terminating {
		amount = *entry.Amount
	}
	p := order.OrderPeriod{
		OrderID:           ord.ID,
		DecisionID:        d.DecisionID,
		ExternalReference: entry.ExternalReference,
		Kind:              d.Kind,
		Amount:            amount,
		Currency:          entry.Currency,
		PeriodFrom:        entry.From,
		PeriodTo:          entry.To,
		DecisionDate:      d.DecisionDate,
		Author:            d.Author,
		SubBenefitID:      entry.SubBenefitID,
		Terminating:       terminating,
	}
	id, err := tx.InsertPeriod(ctx, p)
	if err != nil {
		return order.OrderPeriod{}, err
	}
	p.ID = id
	return p, nil
}

func (s *Service) insertBookings(ctx context.Context, tx order.TxRepository, bookings []order.Booking, all *[]order.Booking) error {
	for _, b := range bookings {
		id, err := tx.InsertBooking(ctx, b)
		if err != nil {
			if errors.Is(err, order.ErrDuplicateBooking) {
				continue
			}
			return err
		}
		b.ID = id
		*all = append(*all, b)
	}
	return nil
}
