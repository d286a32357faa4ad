package outage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	outages map[int64]Outage
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{outages: make(map[int64]Outage)}
}

func (r *memoryRepo) InsertIfNoneOpen(_ context.Context, o Outage) (Outage, error) {
	for _, existing := range r.outages {
		if existing.Open() {
			return Outage{}, ErrOutageActive
		}
	}
	r.nextID++
	o.ID = r.nextID
	r.outages[o.ID] = o
	return o, nil
}

func (r *memoryRepo) FindOpen(_ context.Context) (Outage, bool, error) {
	for _, o := range r.outages {
		if o.Open() {
			return o, true, nil
		}
	}
	return Outage{}, false, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Outage, error) {
	o, ok := r.outages[id]
	if !ok {
		return Outage{}, ErrNotFound
	}
	return o, nil
}

func (r *memoryRepo) List(_ context.Context) ([]Outage, error) {
	out := make([]Outage, 0, len(r.outages))
	for _, o := range r.outages {
		out = append(out, o)
	}
	return out, nil
}

func (r *memoryRepo) Close(_ context.Context, id int64, at time.Time) error {
	o, ok := r.outages[id]
	if !ok || !o.Open() {
		return ErrAlreadyClosed
	}
	o.To = &at
	r.outages[id] = o
	return nil
}

func (r *memoryRepo) LinkRun(_ context.Context, id, runID int64) error {
	o, ok := r.outages[id]
	if !ok {
		return ErrNotFound
	}
	o.RunID = &runID
	r.outages[id] = o
	return nil
}

func newTestService(repo Repository) *Service {
	s := NewService(repo)
	s.WithNow(func() time.Time { return time.Date(2022, 7, 1, 12, 0, 0, 0, time.UTC) })
	return s
}

func TestCreateRejectsSecondOpenOutage(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Creator: "ops", Reason: "ledger upgrade"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Creator: "ops", Reason: "another"})
	require.ErrorIs(t, err, ErrOutageActive)
}

func TestCloseThenCreateSucceeds(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o, err := svc.Create(ctx, CreateInput{Creator: "ops", Reason: "ledger upgrade"})
	require.NoError(t, err)
	require.NoError(t, svc.Close(ctx, o.ID))
	require.ErrorIs(t, svc.Close(ctx, o.ID), ErrAlreadyClosed)

	_, err = svc.Create(ctx, CreateInput{Creator: "ops", Reason: "next window"})
	require.NoError(t, err)
}

func TestClaimForRunCreatesLinkedOutage(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	o, err := svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.NoError(t, err)
	require.True(t, o.LinkedTo(7))
	require.True(t, o.Open())

	blocked, err := svc.TransmissionBlocked(ctx)
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestClaimForRunReusesOwnOutage(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	first, err := svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.NoError(t, err)

	again, err := svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
}

func TestClaimForRunBlockedByUnrelatedOutage(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Creator: "ops", Reason: "manual window"})
	require.NoError(t, err)

	_, err = svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.ErrorIs(t, err, ErrOutageActive)
}

func TestCloseForRun(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.NoError(t, err)

	require.ErrorIs(t, svc.CloseForRun(ctx, 8), ErrNotFound)
	require.NoError(t, svc.CloseForRun(ctx, 7))

	blocked, err := svc.TransmissionBlocked(ctx)
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestRelinkMovesOutageToNewRun(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	o, err := svc.ClaimForRun(ctx, 7, "accrual run 2022-06")
	require.NoError(t, err)

	// Run 7 failed; an operator moves the open outage to the retry run.
	require.NoError(t, svc.Relink(ctx, o.ID, 8))

	reused, err := svc.ClaimForRun(ctx, 8, "accrual run 2022-06")
	require.NoError(t, err)
	require.Equal(t, o.ID, reused.ID)
}

func TestIngestionSuppressed(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	suppressed, err := svc.IngestionSuppressed(ctx)
	require.NoError(t, err)
	require.False(t, suppressed)

	o, err := svc.Create(ctx, CreateInput{Creator: "ops", Reason: "full stop", SuppressIngestion: true})
	require.NoError(t, err)

	suppressed, err = svc.IngestionSuppressed(ctx)
	require.NoError(t, err)
	require.True(t, suppressed)

	require.NoError(t, svc.Close(ctx, o.ID))
	suppressed, err = svc.IngestionSuppressed(ctx)
	require.NoError(t, err)
	require.False(t, suppressed)
}
