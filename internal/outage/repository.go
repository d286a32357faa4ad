package outage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists outage windows.
type Repository interface {
	// InsertIfNoneOpen creates an outage unless one is already open.
	// The check is atomic: a partial unique index on open rows turns
	// the race into a unique violation, surfaced as ErrOutageActive.
	InsertIfNoneOpen(ctx context.Context, o Outage) (Outage, error)
	FindOpen(ctx context.Context) (Outage, bool, error)
	Get(ctx context.Context, id int64) (Outage, error)
	List(ctx context.Context) ([]Outage, error)
	Close(ctx context.Context, id int64, at time.Time) error
	LinkRun(ctx context.Context, id, runID int64) error
}

const pgUniqueViolation = "23505"

// PGRepository is the PostgreSQL implementation.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const outageColumns = `id, run_id, started_from, closed_to, creator, reason, suppress_ingestion`

func scanOutage(row pgx.Row) (Outage, error) {
	var o Outage
	err := row.Scan(&o.ID, &o.RunID, &o.From, &o.To, &o.Creator, &o.Reason, &o.SuppressIngestion)
	if errors.Is(err, pgx.ErrNoRows) {
		return Outage{}, ErrNotFound
	}
	return o, err
}

// InsertIfNoneOpen creates the outage row, relying on the one-open-row
// unique index for mutual exclusion.
func (r *PGRepository) InsertIfNoneOpen(ctx context.Context, o Outage) (Outage, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO outages (run_id, started_from, closed_to, creator, reason, suppress_ingestion)
VALUES ($1, $2, NULL, $3, $4, $5) RETURNING `+outageColumns,
		o.RunID, o.From, o.Creator, o.Reason, o.SuppressIngestion)
	created, err := scanOutage(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Outage{}, ErrOutageActive
		}
		return Outage{}, err
	}
	return created, nil
}

// FindOpen returns the open outage, if any.
func (r *PGRepository) FindOpen(ctx context.Context) (Outage, bool, error) {
	o, err := scanOutage(r.pool.QueryRow(ctx, `SELECT `+outageColumns+` FROM outages WHERE closed_to IS NULL`))
	if errors.Is(err, ErrNotFound) {
		return Outage{}, false, nil
	}
	if err != nil {
		return Outage{}, false, err
	}
	return o, true, nil
}

// Get fetches an outage by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Outage, error) {
	return scanOutage(r.pool.QueryRow(ctx, `SELECT `+outageColumns+` FROM outages WHERE id = $1`, id))
}

// List returns all outages, newest first.
func (r *PGRepository) List(ctx context.Context) ([]Outage, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+outageColumns+` FROM outages ORDER BY started_from DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var outages []Outage
	for rows.Next() {
		var o Outage
		if err := rows.Scan(&o.ID, &o.RunID, &o.From, &o.To, &o.Creator, &o.Reason, &o.SuppressIngestion); err != nil {
			return nil, err
		}
		outages = append(outages, o)
	}
	return outages, rows.Err()
}

// Close stamps the outage end.
func (r *PGRepository) Close(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outages SET closed_to = $2 WHERE id = $1 AND closed_to IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClosed
	}
	return nil
}

// LinkRun attaches the outage to an accrual run.
func (r *PGRepository) LinkRun(ctx context.Context, id, runID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outages SET run_id = $2 WHERE id = $1`, id, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
