// Package booking holds the pure accrual logic: generating the
// per-month booking records an order period owes the external ledger,
// and deriving correction bookings when a period is amended.
package booking

import (
	"time"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/shared"
)

// Flags steer how freshly generated bookings are stamped.
type Flags struct {
	MarkTransmitted bool
	MarkConfirmed   bool
	StampRunPeriod  bool
}

// GenerateInput bundles everything needed to compute the missing
// bookings for one order period.
type GenerateInput struct {
	Order    order.Order
	Period   order.OrderPeriod
	Existing []order.Booking // every booking on the order, all periods

	// Horizon is the most recently fully-transmitted calendar month.
	// Generation covers through horizon+1.
	Horizon shared.YearMonth

	// Limitation is the statute-of-limitations month. Months before it
	// are never reported.
	Limitation shared.YearMonth

	RunPeriod shared.YearMonth
	Now       time.Time
	Flags     Flags
}

// Generate computes the bookings missing from the order period's
// coverage. It never duplicates: a month already booked on the same
// period is skipped, so repeated invocation is idempotent.
func Generate(in GenerateInput) []order.Booking {
	code := in.Order.BaseCode()
	months := coveredMonths(in)

	var out []order.Booking
	for _, month := range months {
		if hasBooking(in.Existing, in.Period.ID, month, code) {
			continue
		}
		if suppressCessation(in, month) {
			continue
		}
		b := order.Booking{
			OrderPeriodID:  in.Period.ID,
			Code:           code,
			Period:         month,
			Classification: classify(in.Existing, in.Period.ID, month),
			Application:    applicationType(in, month),
			CreatedAt:      in.Now,
			DecisionID:     in.Period.DecisionID,
		}
		if in.Flags.MarkTransmitted {
			at := in.Now
			b.TransmittedAt = &at
		}
		if in.Flags.MarkConfirmed {
			at := in.Now
			b.ConfirmedAt = &at
		}
		if in.Flags.StampRunPeriod {
			rp := in.RunPeriod
			b.RunPeriod = &rp
		}
		out = append(out, b)
	}
	return out
}

// coveredMonths resolves the month window the period owes bookings
// for: from period-from through min(period-to, horizon+1), cut at the
// limitation month and at superseded-until.
func coveredMonths(in GenerateInput) []shared.YearMonth {
	months := shared.MonthsCovered(in.Period.PeriodFrom, in.Period.PeriodTo, in.Horizon.Next())
	var kept []shared.YearMonth
	for _, m := range months {
		if m.Before(in.Limitation) {
			continue
		}
		if in.Period.SupersededUntil != nil && !m.Before(shared.YearMonthOf(*in.Period.SupersededUntil)) {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

func hasBooking(existing []order.Booking, periodID int64, month shared.YearMonth, code shared.TransactionCode) bool {
	for _, b := range existing {
		if b.OrderPeriodID == periodID && b.Period == month && b.Code == code {
			return true
		}
	}
	return false
}

// classify marks the booking CHANGE when another period on the order
// already reported this month, NEW otherwise.
func classify(existing []order.Booking, periodID int64, month shared.YearMonth) order.Classification {
	for _, b := range existing {
		if b.Period == month && b.OrderPeriodID != periodID {
			return order.ClassificationChange
		}
	}
	return order.ClassificationNew
}

func applicationType(in GenerateInput, month shared.YearMonth) shared.ApplicationType {
	switch in.Order.Type {
	case shared.ObligationFeePayer:
		return shared.ApplicationFeePayer
	case shared.ObligationFeePayee:
		return shared.ApplicationFeePayee
	}
	if in.Period.Kind == order.DecisionIndexRegulation && month == shared.YearMonthOf(in.Period.PeriodFrom) {
		return shared.ApplicationIndexReg
	}
	return shared.ApplicationDefault
}

// suppressCessation drops the month when the period is a pure
// cessation: terminating with zero amount and nothing previously
// corrected for that month. A cessation need not be reported when
// nothing was ever reported.
func suppressCessation(in GenerateInput, month shared.YearMonth) bool {
	if !in.Period.Terminating || !in.Period.Amount.IsZero() {
		return false
	}
	for _, b := range in.Existing {
		if b.Period == month && shared.IsCorrectionCode(b.Code) {
			return false
		}
	}
	return true
}
