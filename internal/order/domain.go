package order

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oppdrag/oppdrag/internal/shared"
)

// Order is a recurring payment obligation between a payer and a payee
// tied to a case. Orders are never hard-deleted.
type Order struct {
	ID            int64
	Type          shared.ObligationType
	CaseID        string
	PayerID       string
	PayeeID       string
	BeneficiaryID string
	DeferredUntil *time.Time
	UpdatedAt     time.Time
}

// BaseCode returns the transaction code this order's bookings are
// reported under.
func (o Order) BaseCode() shared.TransactionCode {
	return shared.BaseCode(o.Type)
}

// Deferred reports whether reporting for the order is deferred at the
// given reference date.
func (o Order) Deferred(at time.Time) bool {
	return o.DeferredUntil != nil && o.DeferredUntil.After(at)
}

// DecisionKind categorises the decision that produced an order period.
type DecisionKind string

const (
	DecisionNew             DecisionKind = "NEW"
	DecisionAmendment       DecisionKind = "AMENDMENT"
	DecisionIndexRegulation DecisionKind = "INDEX_REGULATION"
	DecisionCessation       DecisionKind = "CESSATION"
)

// OrderPeriod is a time-bounded amount commitment under an order,
// produced by one decision. At most one period per order has
// SupersededUntil unset: the currently active one.
type OrderPeriod struct {
	ID                int64
	OrderID           int64
	DecisionID        int64
	ExternalReference string
	Kind              DecisionKind
	Amount            decimal.Decimal
	Currency          string
	PeriodFrom        time.Time
	PeriodTo          *time.Time
	DecisionDate      time.Time
	Author            string
	SubBenefitID      string
	Terminating       bool
	SupersededUntil   *time.Time
	BookingsGenerated bool
}

// Active reports whether this period is the order's currently active
// commitment.
func (p OrderPeriod) Active() bool {
	return p.SupersededUntil == nil
}

// Classification separates first-time bookings from superseding ones.
type Classification string

const (
	ClassificationNew    Classification = "NEW"
	ClassificationChange Classification = "CHANGE"
)

// Booking is one month's reportable transaction record for an order
// period. Bookings are append-only: once created only the batch
// reference and the transmitted/confirmed timestamps may be set.
type Booking struct {
	ID             int64
	OrderPeriodID  int64
	Code           shared.TransactionCode
	Period         shared.YearMonth
	Classification Classification
	Application    shared.ApplicationType
	CreatedAt      time.Time
	RunPeriod      *shared.YearMonth
	BatchRef       *string
	TransmittedAt  *time.Time
	ConfirmedAt    *time.Time
	DecisionID     int64
}

// Transmitted reports whether the booking has been handed to the
// external ledger.
func (b Booking) Transmitted() bool {
	return b.TransmittedAt != nil
}

// AwaitingConfirmation reports whether a transmitted booking still
// lacks a confirmation from the ledger authority.
func (b Booking) AwaitingConfirmation() bool {
	return b.TransmittedAt != nil && b.ConfirmedAt == nil
}

// Decision is one ingress event creating or amending an order.
type Decision struct {
	DecisionID    int64            `json:"decisionId" validate:"required,gt=0"`
	Kind          DecisionKind     `json:"kind" validate:"required,oneof=NEW AMENDMENT INDEX_REGULATION CESSATION"`
	Type          shared.ObligationType `json:"type" validate:"required"`
	CaseID        string           `json:"caseId" validate:"required"`
	PayerID       string           `json:"payerId" validate:"required"`
	PayeeID       string           `json:"payeeId" validate:"required"`
	BeneficiaryID string           `json:"beneficiaryId"`
	DecisionDate  time.Time        `json:"decisionDate" validate:"required"`
	Author        string           `json:"author" validate:"required"`
	DeferredUntil *time.Time       `json:"deferredUntil"`
	Periods       []DecisionPeriod `json:"periods" validate:"required,min=1,dive"`
}

// DecisionPeriod is one period entry within a decision. A nil amount
// terminates the obligation from the given date.
type DecisionPeriod struct {
	Amount            *decimal.Decimal `json:"amount"`
	Currency          string           `json:"currency" validate:"required,len=3"`
	From              time.Time        `json:"from" validate:"required"`
	To                *time.Time       `json:"to"`
	SubBenefitID      string           `json:"subBenefitId"`
	ExternalReference string           `json:"externalReference"`
}

// Validate applies structural checks beyond struct tags.
func (d Decision) Validate() error {
	if strings.TrimSpace(string(d.Type)) == "" {
		return errors.New("order: obligation type required")
	}
	for _, p := range d.Periods {
		if p.To != nil && !p.From.Before(*p.To) {
			return ErrInvalidPeriodRange
		}
	}
	return nil
}

// Sentinel errors shared across the order packages.
var (
	ErrNotFound           = errors.New("order: not found")
	ErrDuplicateBooking   = errors.New("order: booking already exists for period, month and code")
	ErrDecisionProcessed  = errors.New("order: decision already processed")
	ErrInvalidPeriodRange = errors.New("order: period start must precede period end")
)
