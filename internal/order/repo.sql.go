package order

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdrag/oppdrag/internal/platform/db"
	"github.com/oppdrag/oppdrag/internal/shared"
)

const pgUniqueViolation = "23505"

// PGRepository provides PostgreSQL backed persistence for orders,
// order periods and bookings.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx wraps fn in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

const orderColumns = `id, type, case_id, payer_id, payee_id, beneficiary_id, deferred_until, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Type, &o.CaseID, &o.PayerID, &o.PayeeID, &o.BeneficiaryID, &o.DeferredUntil, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// GetOrder fetches an order by id.
func (r *PGRepository) GetOrder(ctx context.Context, id int64) (Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// FindOrder locates the order identified by the obligation tuple.
func (r *PGRepository) FindOrder(ctx context.Context, typ, caseID, payerID, payeeID string) (Order, error) {
	return scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE type = $1 AND case_id = $2 AND payer_id = $3 AND payee_id = $4`,
		typ, caseID, payerID, payeeID))
}

// ListOrders fetches orders by id, skipping unknown ids.
func (r *PGRepository) ListOrders(ctx context.Context, ids []int64) ([]Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.Type, &o.CaseID, &o.PayerID, &o.PayeeID, &o.BeneficiaryID, &o.DeferredUntil, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// LookupDecision returns the order a decision was applied to, if any.
func (r *PGRepository) LookupDecision(ctx context.Context, decisionID int64) (int64, bool, error) {
	var orderID int64
	err := r.pool.QueryRow(ctx, `SELECT order_id FROM processed_decisions WHERE decision_id = $1`, decisionID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return orderID, true, nil
}

const periodColumns = `id, order_id, decision_id, external_reference, kind, amount, currency, period_from, period_to, decision_date, author, sub_benefit_id, terminating, superseded_until, bookings_generated`

func scanPeriods(rows pgx.Rows) ([]OrderPeriod, error) {
	defer rows.Close()
	var periods []OrderPeriod
	for rows.Next() {
		var p OrderPeriod
		if err := rows.Scan(&p.ID, &p.OrderID, &p.DecisionID, &p.ExternalReference, &p.Kind, &p.Amount, &p.Currency,
			&p.PeriodFrom, &p.PeriodTo, &p.DecisionDate, &p.Author, &p.SubBenefitID, &p.Terminating,
			&p.SupersededUntil, &p.BookingsGenerated); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// ListPeriods returns all periods for an order, oldest first.
func (r *PGRepository) ListPeriods(ctx context.Context, orderID int64) ([]OrderPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM order_periods WHERE order_id = $1 ORDER BY period_from, id`, orderID)
	if err != nil {
		return nil, err
	}
	return scanPeriods(rows)
}

// GetPeriod fetches a single order period.
func (r *PGRepository) GetPeriod(ctx context.Context, id int64) (OrderPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM order_periods WHERE id = $1`, id)
	if err != nil {
		return OrderPeriod{}, err
	}
	periods, err := scanPeriods(rows)
	if err != nil {
		return OrderPeriod{}, err
	}
	if len(periods) == 0 {
		return OrderPeriod{}, ErrNotFound
	}
	return periods[0], nil
}

// ListBacklogPeriods returns every period whose booking set is not yet
// fully generated. This is the accrual sweep's work list.
func (r *PGRepository) ListBacklogPeriods(ctx context.Context) ([]OrderPeriod, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+periodColumns+` FROM order_periods WHERE NOT bookings_generated ORDER BY order_id, id`)
	if err != nil {
		return nil, err
	}
	return scanPeriods(rows)
}

const bookingColumns = `b.id, b.order_period_id, b.code, b.period, b.classification, b.application, b.created_at, b.run_period, b.batch_ref, b.transmitted_at, b.confirmed_at, b.decision_id`

func scanBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()
	var bookings []Booking
	for rows.Next() {
		var b Booking
		var period time.Time
		var runPeriod *time.Time
		if err := rows.Scan(&b.ID, &b.OrderPeriodID, &b.Code, &period, &b.Classification, &b.Application,
			&b.CreatedAt, &runPeriod, &b.BatchRef, &b.TransmittedAt, &b.ConfirmedAt, &b.DecisionID); err != nil {
			return nil, err
		}
		b.Period = shared.YearMonthOf(period)
		if runPeriod != nil {
			rp := shared.YearMonthOf(*runPeriod)
			b.RunPeriod = &rp
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// ListBookings returns every booking on an order across all periods.
func (r *PGRepository) ListBookings(ctx context.Context, orderID int64) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b
JOIN order_periods p ON p.id = b.order_period_id
WHERE p.order_id = $1 ORDER BY b.period, b.id`, orderID)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

// ListUntransmittedBookings returns an order's bookings pending
// external submission.
func (r *PGRepository) ListUntransmittedBookings(ctx context.Context, orderID int64) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b
JOIN order_periods p ON p.id = b.order_period_id
WHERE p.order_id = $1 AND b.transmitted_at IS NULL ORDER BY b.decision_id, b.period, b.id`, orderID)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

// ListUntransmittedBookingIDs pages through untransmitted bookings for
// the accrual run's bulk stamp.
func (r *PGRepository) ListUntransmittedBookingIDs(ctx context.Context, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM bookings WHERE transmitted_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListAllUntransmittedBookings returns the full pending population,
// used for file generation.
func (r *PGRepository) ListAllUntransmittedBookings(ctx context.Context) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.transmitted_at IS NULL ORDER BY b.id`)
	if err != nil {
		return nil, err
	}
	return scanBookings(rows)
}

// ListOrderIDsWithPending returns the ids of every order that has at
// least one booking pending external submission.
func (r *PGRepository) ListOrderIDsWithPending(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT p.order_id FROM bookings b
JOIN order_periods p ON p.id = b.order_period_id
WHERE b.transmitted_at IS NULL ORDER BY p.order_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

var _ TxRepository = (*pgTxRepository)(nil)

func (t *pgTxRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (type, case_id, payer_id, payee_id, beneficiary_id, deferred_until, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		o.Type, o.CaseID, o.PayerID, o.PayeeID, o.BeneficiaryID, o.DeferredUntil, o.UpdatedAt).Scan(&id)
	return id, err
}

func (t *pgTxRepository) UpdateOrderDeferral(ctx context.Context, orderID int64, deferredUntil *time.Time, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET deferred_until = $2, updated_at = $3 WHERE id = $1`, orderID, deferredUntil, at)
	return err
}

func (t *pgTxRepository) InsertPeriod(ctx context.Context, p OrderPeriod) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO order_periods (order_id, decision_id, external_reference, kind, amount, currency, period_from, period_to, decision_date, author, sub_benefit_id, terminating, superseded_until, bookings_generated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		p.OrderID, p.DecisionID, p.ExternalReference, p.Kind, p.Amount, p.Currency, p.PeriodFrom, p.PeriodTo,
		p.DecisionDate, p.Author, p.SubBenefitID, p.Terminating, p.SupersededUntil, p.BookingsGenerated).Scan(&id)
	return id, err
}

func (t *pgTxRepository) SetSupersededUntil(ctx context.Context, periodID int64, until time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE order_periods SET superseded_until = $2 WHERE id = $1`, periodID, until)
	return err
}

func (t *pgTxRepository) MarkBookingsGenerated(ctx context.Context, periodID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE order_periods SET bookings_generated = TRUE WHERE id = $1`, periodID)
	return err
}

func (t *pgTxRepository) InsertBooking(ctx context.Context, b Booking) (int64, error) {
	var runPeriod *time.Time
	if b.RunPeriod != nil {
		first := b.RunPeriod.First()
		runPeriod = &first
	}
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO bookings (order_period_id, code, period, classification, application, created_at, run_period, batch_ref, transmitted_at, confirmed_at, decision_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		b.OrderPeriodID, b.Code, b.Period.First(), b.Classification, b.Application, b.CreatedAt,
		runPeriod, b.BatchRef, b.TransmittedAt, b.ConfirmedAt, b.DecisionID).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return 0, ErrDuplicateBooking
		}
		return 0, err
	}
	return id, nil
}

func (t *pgTxRepository) StampTransmitted(ctx context.Context, bookingIDs []int64, batchRef string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE bookings SET batch_ref = $2, transmitted_at = $3 WHERE id = ANY($1)`, bookingIDs, batchRef, at)
	return err
}

func (t *pgTxRepository) StampConfirmed(ctx context.Context, bookingIDs []int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE bookings SET confirmed_at = $2 WHERE id = ANY($1)`, bookingIDs, at)
	return err
}

func (t *pgTxRepository) StampTransmittedConfirmed(ctx context.Context, bookingIDs []int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE bookings SET transmitted_at = $2, confirmed_at = $2 WHERE id = ANY($1) AND transmitted_at IS NULL`, bookingIDs, at)
	return err
}

func (t *pgTxRepository) ResetTransmission(ctx context.Context, bookingIDs []int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE bookings SET batch_ref = NULL, transmitted_at = NULL WHERE id = ANY($1)`, bookingIDs)
	return err
}

func (t *pgTxRepository) RecordDecision(ctx context.Context, decisionID, orderID int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO processed_decisions (decision_id, order_id, created_at) VALUES ($1, $2, $3)`,
		decisionID, orderID, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDecisionProcessed
		}
		return err
	}
	return nil
}
