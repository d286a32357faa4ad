// Package accrual drives the periodic sweep that fills in every
// missing booking across the order population and self-confirms the
// swept months.
package accrual

import (
	"errors"
	"time"

	"github.com/oppdrag/oppdrag/internal/shared"
)

// Run is one scheduled accrual sweep. Exactly one run may be in
// progress (started, not finished) at a time; the invariant is carried
// by the linked outage window.
type Run struct {
	ID           int64
	RunDate      time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	TargetPeriod shared.YearMonth
	GenerateFile bool
	TransmitFile bool
}

// InProgress reports whether the run has started but not finished.
func (r Run) InProgress() bool {
	return r.StartedAt != nil && r.FinishedAt == nil
}

// CreateInput carries the parameters for scheduling a run.
type CreateInput struct {
	RunDate      time.Time `json:"runDate" validate:"required"`
	TargetPeriod string    `json:"targetPeriod" validate:"required"`
	GenerateFile bool      `json:"generateFile"`
	TransmitFile bool      `json:"transmitFile"`
}

var (
	// ErrNoPendingRun indicates there is no run waiting to be claimed.
	ErrNoPendingRun = errors.New("accrual: no pending run")
	// ErrRunBlocked indicates an unrelated outage prevented the claim.
	ErrRunBlocked = errors.New("accrual: run blocked by open outage")
	// ErrNotFound indicates the run does not exist.
	ErrNotFound = errors.New("accrual: run not found")
)
