package order

import (
	"context"
	"time"
)

// Repository defines order data access.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	GetOrder(ctx context.Context, id int64) (Order, error)
	FindOrder(ctx context.Context, typ, caseID, payerID, payeeID string) (Order, error)
	ListOrders(ctx context.Context, ids []int64) ([]Order, error)
	LookupDecision(ctx context.Context, decisionID int64) (int64, bool, error)

	ListPeriods(ctx context.Context, orderID int64) ([]OrderPeriod, error)
	GetPeriod(ctx context.Context, id int64) (OrderPeriod, error)
	ListBacklogPeriods(ctx context.Context) ([]OrderPeriod, error)

	ListBookings(ctx context.Context, orderID int64) ([]Booking, error)
	ListUntransmittedBookings(ctx context.Context, orderID int64) ([]Booking, error)
	ListUntransmittedBookingIDs(ctx context.Context, limit int) ([]int64, error)
	ListAllUntransmittedBookings(ctx context.Context) ([]Booking, error)
	ListOrderIDsWithPending(ctx context.Context) ([]int64, error)
}

// TxRepository defines mutations inside a transaction.
type TxRepository interface {
	InsertOrder(ctx context.Context, o Order) (int64, error)
	UpdateOrderDeferral(ctx context.Context, orderID int64, deferredUntil *time.Time, at time.Time) error

	InsertPeriod(ctx context.Context, p OrderPeriod) (int64, error)
	SetSupersededUntil(ctx context.Context, periodID int64, until time.Time) error
	MarkBookingsGenerated(ctx context.Context, periodID int64) error

	InsertBooking(ctx context.Context, b Booking) (int64, error)
	StampTransmitted(ctx context.Context, bookingIDs []int64, batchRef string, at time.Time) error
	StampConfirmed(ctx context.Context, bookingIDs []int64, at time.Time) error
	StampTransmittedConfirmed(ctx context.Context, bookingIDs []int64, at time.Time) error
	ResetTransmission(ctx context.Context, bookingIDs []int64) error

	RecordDecision(ctx context.Context, decisionID, orderID int64) error
}
