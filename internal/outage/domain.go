// Package outage models transmission outage windows. An open outage
// (no end timestamp) is the system-wide signal that external
// submission must pause; the accrual run claims one as its exclusive
// execution token.
package outage

import (
	"errors"
	"time"
)

// Outage is a window during which external transmission is suspended.
// A nil To means the window is still open.
type Outage struct {
	ID                int64
	RunID             *int64
	From              time.Time
	To                *time.Time
	Creator           string
	Reason            string
	SuppressIngestion bool
}

// Open reports whether the outage window is still open.
func (o Outage) Open() bool {
	return o.To == nil
}

// LinkedTo reports whether the outage belongs to the given accrual run.
func (o Outage) LinkedTo(runID int64) bool {
	return o.RunID != nil && *o.RunID == runID
}

// CreateInput carries operator-supplied outage parameters.
type CreateInput struct {
	Creator           string `json:"creator" validate:"required"`
	Reason            string `json:"reason" validate:"required"`
	SuppressIngestion bool   `json:"suppressIngestion"`
}

var (
	// ErrOutageActive signals that an open outage already exists.
	ErrOutageActive = errors.New("outage: an outage is already open")
	// ErrNotFound indicates the outage does not exist.
	ErrNotFound = errors.New("outage: not found")
	// ErrAlreadyClosed indicates the outage window was closed before.
	ErrAlreadyClosed = errors.New("outage: already closed")
)
