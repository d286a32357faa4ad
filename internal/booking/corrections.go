package booking

import (
	"time"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/shared"
)

// CorrectionInput bundles an order's booking history and the newly
// created period amending it.
type CorrectionInput struct {
	NewPeriod order.OrderPeriod
	History   []order.Booking // every booking on the order, all periods
	Now       time.Time
}

// DeriveCorrections produces the counter-entries a new order period
// requires for months already reported to the ledger. The ledger is
// append-only, so history is never deleted: each transmitted booking
// that the amendment touches gets one correction booking with the
// correction code, same month and same owning period.
func DeriveCorrections(in CorrectionInput) []order.Booking {
	newFrom := shared.YearMonthOf(in.NewPeriod.PeriodFrom)
	lastCovered, bounded := shared.LastCoveredMonth(in.NewPeriod.PeriodTo)

	var out []order.Booking
	for _, b := range in.History {
		if !b.Transmitted() {
			continue
		}
		corrCode, ok := shared.CorrectionCode(b.Code)
		if !ok {
			continue
		}
		if hasBooking(in.History, b.OrderPeriodID, b.Period, corrCode) || hasBooking(out, b.OrderPeriodID, b.Period, corrCode) {
			continue
		}
		if !needsCorrection(b, newFrom, lastCovered, bounded) {
			continue
		}
		out = append(out, order.Booking{
			OrderPeriodID:  b.OrderPeriodID,
			Code:           corrCode,
			Period:         b.Period,
			Classification: order.ClassificationChange,
			Application:    b.Application,
			CreatedAt:      in.Now,
			DecisionID:     b.DecisionID,
		})
	}
	return out
}

// needsCorrection applies the three correction triggers: the reported
// month overlaps the amendment, the amendment ends before the reported
// month, or the booking is a fee (fees are corrected wholesale).
func needsCorrection(b order.Booking, newFrom, lastCovered shared.YearMonth, bounded bool) bool {
	if shared.IsFeeApplication(b.Application) {
		return true
	}
	if bounded && b.Period.After(lastCovered) {
		return true
	}
	if !b.Period.Before(newFrom) && (!bounded || !b.Period.After(lastCovered)) {
		return true
	}
	return false
}
