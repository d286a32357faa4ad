package accrual

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oppdrag/oppdrag/internal/shared"
)

// Repository persists accrual runs.
type Repository interface {
	Insert(ctx context.Context, run Run) (Run, error)
	Get(ctx context.Context, id int64) (Run, error)
	List(ctx context.Context) ([]Run, error)
	// NextPending returns the oldest run not yet started.
	NextPending(ctx context.Context) (Run, bool, error)
	StampStarted(ctx context.Context, id int64, at time.Time) error
	StampFinished(ctx context.Context, id int64, at time.Time) error
	// LastFinishedTarget is the transmitted horizon for ingress-time
	// booking generation.
	LastFinishedTarget(ctx context.Context) (shared.YearMonth, bool, error)
}

// PGRepository is the PostgreSQL implementation.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const runColumns = `id, run_date, started_at, finished_at, target_period, generate_file, transmit_file`

func scanRun(row pgx.Row) (Run, error) {
	var r Run
	var target time.Time
	err := row.Scan(&r.ID, &r.RunDate, &r.StartedAt, &r.FinishedAt, &target, &r.GenerateFile, &r.TransmitFile)
	if errors.Is(err, pgx.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	r.TargetPeriod = shared.YearMonthOf(target)
	return r, nil
}

// Insert schedules a new run.
func (r *PGRepository) Insert(ctx context.Context, run Run) (Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `INSERT INTO accrual_runs (run_date, target_period, generate_file, transmit_file)
VALUES ($1, $2, $3, $4) RETURNING `+runColumns,
		run.RunDate, run.TargetPeriod.First(), run.GenerateFile, run.TransmitFile))
}

// Get fetches a run by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM accrual_runs WHERE id = $1`, id))
}

// List returns all runs, newest first.
func (r *PGRepository) List(ctx context.Context) ([]Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM accrual_runs ORDER BY run_date DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var run Run
		var target time.Time
		if err := rows.Scan(&run.ID, &run.RunDate, &run.StartedAt, &run.FinishedAt, &target, &run.GenerateFile, &run.TransmitFile); err != nil {
			return nil, err
		}
		run.TargetPeriod = shared.YearMonthOf(target)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// NextPending returns the oldest unclaimed run.
func (r *PGRepository) NextPending(ctx context.Context) (Run, bool, error) {
	run, err := scanRun(r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM accrual_runs WHERE started_at IS NULL AND finished_at IS NULL ORDER BY run_date, id LIMIT 1`))
	if errors.Is(err, ErrNotFound) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, true, nil
}

// StampStarted records the claim.
func (r *PGRepository) StampStarted(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE accrual_runs SET started_at = $2 WHERE id = $1`, id, at)
	return err
}

// StampFinished records completion.
func (r *PGRepository) StampFinished(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE accrual_runs SET finished_at = $2 WHERE id = $1`, id, at)
	return err
}

// LastFinishedTarget returns the target period of the most recently
// finished run.
func (r *PGRepository) LastFinishedTarget(ctx context.Context) (shared.YearMonth, bool, error) {
	var target time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT target_period FROM accrual_runs WHERE finished_at IS NOT NULL ORDER BY target_period DESC LIMIT 1`).Scan(&target)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.YearMonth{}, false, nil
	}
	if err != nil {
		return shared.YearMonth{}, false, err
	}
	return shared.YearMonthOf(target), true, nil
}
