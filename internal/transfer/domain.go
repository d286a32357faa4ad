// Package transfer submits pending bookings to the external ledger
// authority and reconciles transmission and confirmation state.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/shared"
)

// BatchBooking is one booking as submitted to the ledger. The amount
// is sign-flipped for codes the code table marks as reversing.
type BatchBooking struct {
	BookingID         int64                  `json:"-"`
	Code              shared.TransactionCode `json:"code"`
	Classification    order.Classification   `json:"classification"`
	Application       shared.ApplicationType `json:"application"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	Period            string                 `json:"period"`
	DecisionDate      time.Time              `json:"decisionDate"`
	Author            string                 `json:"author"`
	ExternalReference string                 `json:"externalReference"`
	SubBenefitID      string                 `json:"subBenefitId,omitempty"`
}

// Batch groups one decision's worth of bookings. The ledger applies
// batches in submission order, so batches are always submitted oldest
// decision first.
type Batch struct {
	DecisionID int64          `json:"decisionId"`
	OrderID    int64          `json:"orderId"`
	CaseID     string         `json:"caseId"`
	PayerID    string         `json:"payerId"`
	PayeeID    string         `json:"payeeId"`
	Bookings   []BatchBooking `json:"bookings"`
}

// Outcome classifies the ledger's answer to a submission.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeValidationRejected
	OutcomeUnavailable
	OutcomeUnauthorized
)

// SubmitResponse is the ledger's answer to one batch.
type SubmitResponse struct {
	Outcome  Outcome
	BatchRef string
	Message  string
}

// ConfirmState is the terminal status of a previously submitted batch.
type ConfirmState string

const (
	ConfirmPending ConfirmState = "PENDING"
	ConfirmDone    ConfirmState = "DONE"
	ConfirmFailed  ConfirmState = "FAILED"
)

// ConfirmResponse reports a batch's confirmation status.
type ConfirmResponse struct {
	State  ConfirmState
	Errors []string
}

// LedgerClient is the boundary towards the external ledger authority.
type LedgerClient interface {
	Submit(ctx context.Context, batch Batch) (SubmitResponse, error)
	CheckBatch(ctx context.Context, batchRef string) (ConfirmResponse, error)
}

// Notifier surfaces conditions an operator must look at.
type Notifier interface {
	Notify(ctx context.Context, subject, detail string)
}

// ErrMissingPeriod indicates a booking references an unknown order
// period, which should be impossible.
var ErrMissingPeriod = errors.New("transfer: booking references unknown order period")
