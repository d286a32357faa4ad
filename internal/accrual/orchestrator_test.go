package accrual

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/outage"
	"github.com/oppdrag/oppdrag/internal/shared"
)

type memoryOrderRepo struct {
	mu       sync.Mutex
	orders   map[int64]order.Order
	periods  map[int64]order.OrderPeriod
	bookings map[int64]order.Booking
	nextID   int64
}

type memoryOrderTx struct {
	repo *memoryOrderRepo
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{
		orders:   make(map[int64]order.Order),
		periods:  make(map[int64]order.OrderPeriod),
		bookings: make(map[int64]order.Booking),
	}
}

func (r *memoryOrderRepo) addOrder(o order.Order) order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o.ID = r.nextID
	r.orders[o.ID] = o
	return o
}

func (r *memoryOrderRepo) addPeriod(p order.OrderPeriod) order.OrderPeriod {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.periods[p.ID] = p
	return p
}

func (r *memoryOrderRepo) addBooking(b order.Booking) order.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	b.ID = r.nextID
	r.bookings[b.ID] = b
	return b
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, order.TxRepository) error) error {
	return fn(ctx, &memoryOrderTx{repo: r})
}

func (r *memoryOrderRepo) GetOrder(_ context.Context, id int64) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (r *memoryOrderRepo) FindOrder(context.Context, string, string, string, string) (order.Order, error) {
	return order.Order{}, order.ErrNotFound
}

func (r *memoryOrderRepo) ListOrders(_ context.Context, ids []int64) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.Order
	for _, id := range ids {
		if o, ok := r.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memoryOrderRepo) LookupDecision(context.Context, int64) (int64, bool, error) {
	return 0, false, nil
}

func (r *memoryOrderRepo) ListPeriods(_ context.Context, orderID int64) ([]order.OrderPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.OrderPeriod
	for _, p := range r.periods {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryOrderRepo) GetPeriod(_ context.Context, id int64) (order.OrderPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.periods[id]
	if !ok {
		return order.OrderPeriod{}, order.ErrNotFound
	}
	return p, nil
}

func (r *memoryOrderRepo) ListBacklogPeriods(context.Context) ([]order.OrderPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.OrderPeriod
	for _, p := range r.periods {
		if !p.BookingsGenerated {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryOrderRepo) bookingsWhere(keep func(order.Booking) bool) []order.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.Booking
	for _, b := range r.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryOrderRepo) onOrder(orderID int64, b order.Booking) bool {
	p, ok := r.periods[b.OrderPeriodID]
	return ok && p.OrderID == orderID
}

func (r *memoryOrderRepo) ListBookings(_ context.Context, orderID int64) ([]order.Booking, error) {
	return r.bookingsWhere(func(b order.Booking) bool { return r.onOrder(orderID, b) }), nil
}

func (r *memoryOrderRepo) ListUntransmittedBookings(_ context.Context, orderID int64) ([]order.Booking, error) {
	return r.bookingsWhere(func(b order.Booking) bool {
		return r.onOrder(orderID, b) && !b.Transmitted()
	}), nil
}

func (r *memoryOrderRepo) ListUntransmittedBookingIDs(_ context.Context, limit int) ([]int64, error) {
	pending := r.bookingsWhere(func(b order.Booking) bool { return !b.Transmitted() })
	var ids []int64
	for _, b := range pending {
		if len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

func (r *memoryOrderRepo) ListAllUntransmittedBookings(context.Context) ([]order.Booking, error) {
	return r.bookingsWhere(func(b order.Booking) bool { return !b.Transmitted() }), nil
}

func (r *memoryOrderRepo) ListOrderIDsWithPending(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int64]bool)
	for _, b := range r.bookings {
		if !b.Transmitted() {
			if p, ok := r.periods[b.OrderPeriodID]; ok {
				seen[p.OrderID] = true
			}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryOrderTx) InsertOrder(_ context.Context, o order.Order) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	o.ID = tx.repo.nextID
	tx.repo.orders[o.ID] = o
	return o.ID, nil
}

func (tx *memoryOrderTx) UpdateOrderDeferral(_ context.Context, orderID int64, deferredUntil *time.Time, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	o := tx.repo.orders[orderID]
	o.DeferredUntil = deferredUntil
	o.UpdatedAt = at
	tx.repo.orders[orderID] = o
	return nil
}

func (tx *memoryOrderTx) InsertPeriod(_ context.Context, p order.OrderPeriod) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	tx.repo.nextID++
	p.ID = tx.repo.nextID
	tx.repo.periods[p.ID] = p
	return p.ID, nil
}

func (tx *memoryOrderTx) SetSupersededUntil(_ context.Context, periodID int64, until time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	p := tx.repo.periods[periodID]
	p.SupersededUntil = &until
	tx.repo.periods[periodID] = p
	return nil
}

func (tx *memoryOrderTx) MarkBookingsGenerated(_ context.Context, periodID int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	p := tx.repo.periods[periodID]
	p.BookingsGenerated = true
	tx.repo.periods[periodID] = p
	return nil
}

func (tx *memoryOrderTx) InsertBooking(_ context.Context, b order.Booking) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, existing := range tx.repo.bookings {
		if existing.OrderPeriodID == b.OrderPeriodID && existing.Period == b.Period && existing.Code == b.Code {
			return 0, order.ErrDuplicateBooking
		}
	}
	tx.repo.nextID++
	b.ID = tx.repo.nextID
	tx.repo.bookings[b.ID] = b
	return b.ID, nil
}

func (tx *memoryOrderTx) StampTransmitted(_ context.Context, ids []int64, batchRef string, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, id := range ids {
		b := tx.repo.bookings[id]
		b.BatchRef = &batchRef
		b.TransmittedAt = &at
		tx.repo.bookings[id] = b
	}
	return nil
}

func (tx *memoryOrderTx) StampConfirmed(_ context.Context, ids []int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, id := range ids {
		b := tx.repo.bookings[id]
		b.ConfirmedAt = &at
		tx.repo.bookings[id] = b
	}
	return nil
}

func (tx *memoryOrderTx) StampTransmittedConfirmed(_ context.Context, ids []int64, at time.Time) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, id := range ids {
		b := tx.repo.bookings[id]
		if b.Transmitted() {
			continue
		}
		b.TransmittedAt = &at
		b.ConfirmedAt = &at
		tx.repo.bookings[id] = b
	}
	return nil
}

func (tx *memoryOrderTx) ResetTransmission(_ context.Context, ids []int64) error {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, id := range ids {
		b := tx.repo.bookings[id]
		b.BatchRef = nil
		b.TransmittedAt = nil
		tx.repo.bookings[id] = b
	}
	return nil
}

func (tx *memoryOrderTx) RecordDecision(context.Context, int64, int64) error {
	return nil
}

type memoryRunRepo struct {
	runs   map[int64]Run
	nextID int64
}

func newMemoryRunRepo() *memoryRunRepo {
	return &memoryRunRepo{runs: make(map[int64]Run)}
}

func (r *memoryRunRepo) Insert(_ context.Context, run Run) (Run, error) {
	r.nextID++
	run.ID = r.nextID
	r.runs[run.ID] = run
	return run, nil
}

func (r *memoryRunRepo) Get(_ context.Context, id int64) (Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (r *memoryRunRepo) List(context.Context) ([]Run, error) {
	out := make([]Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

func (r *memoryRunRepo) NextPending(context.Context) (Run, bool, error) {
	var pending []Run
	for _, run := range r.runs {
		if run.StartedAt == nil && run.FinishedAt == nil {
			pending = append(pending, run)
		}
	}
	if len(pending) == 0 {
		return Run{}, false, nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending[0], true, nil
}

func (r *memoryRunRepo) StampStarted(_ context.Context, id int64, at time.Time) error {
	run := r.runs[id]
	run.StartedAt = &at
	r.runs[id] = run
	return nil
}

func (r *memoryRunRepo) StampFinished(_ context.Context, id int64, at time.Time) error {
	run := r.runs[id]
	run.FinishedAt = &at
	r.runs[id] = run
	return nil
}

func (r *memoryRunRepo) LastFinishedTarget(context.Context) (shared.YearMonth, bool, error) {
	var best shared.YearMonth
	found := false
	for _, run := range r.runs {
		if run.FinishedAt != nil && (!found || run.TargetPeriod.After(best)) {
			best = run.TargetPeriod
			found = true
		}
	}
	return best, found, nil
}

type stubOutages struct {
	claimErr error
	claims   []int64
	closes   []int64
}

func (s *stubOutages) ClaimForRun(_ context.Context, runID int64, _ string) (outage.Outage, error) {
	if s.claimErr != nil {
		return outage.Outage{}, s.claimErr
	}
	s.claims = append(s.claims, runID)
	return outage.Outage{ID: 1, RunID: &runID}, nil
}

func (s *stubOutages) CloseForRun(_ context.Context, runID int64) error {
	s.closes = append(s.closes, runID)
	return nil
}

type memoryStorage struct {
	files map[string][]byte
	err   error
}

func (s *memoryStorage) Save(_ context.Context, name string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.files == nil {
		s.files = make(map[string][]byte)
	}
	s.files[name] = data
	return nil
}

type recordingNotifier struct {
	subjects []string
}

func (n *recordingNotifier) Notify(_ context.Context, subject, _ string) {
	n.subjects = append(n.subjects, subject)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	orders   *memoryOrderRepo
	runs     *memoryRunRepo
	outages  *stubOutages
	storage  *memoryStorage
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newMemoryOrderRepo(),
		runs:     newMemoryRunRepo(),
		outages:  &stubOutages{},
		storage:  &memoryStorage{},
		notifier: &recordingNotifier{},
	}
	f.orch = NewOrchestrator(OrchestratorConfig{
		Runs:             f.runs,
		Orders:           f.orders,
		Outages:          f.outages,
		Storage:          f.storage,
		Notifier:         f.notifier,
		Logger:           slog.Default(),
		PartitionSize:    2,
		Workers:          2,
		LimitationMonths: 36,
	})
	f.orch.WithNow(func() time.Time { return date(2022, 7, 1) })
	return f
}

func (f *fixture) scheduleRun(t *testing.T, target shared.YearMonth, generateFile bool) Run {
	t.Helper()
	run, err := f.runs.Insert(context.Background(), Run{
		RunDate:      date(2022, 7, 1),
		TargetPeriod: target,
		GenerateFile: generateFile,
	})
	require.NoError(t, err)
	return run
}

func (f *fixture) seedBoundedPeriod(t *testing.T) order.OrderPeriod {
	t.Helper()
	ord := f.orders.addOrder(order.Order{Type: shared.ObligationMaintenance, CaseID: "2022-001", PayerID: "P-1", PayeeID: "R-1"})
	to := date(2022, 4, 1)
	return f.orders.addPeriod(order.OrderPeriod{
		OrderID:    ord.ID,
		DecisionID: 100,
		Kind:       order.DecisionNew,
		Amount:     decimal.NewFromInt(2000),
		Currency:   "NOK",
		PeriodFrom: date(2022, 1, 1),
		PeriodTo:   &to,
	})
}

func TestExecuteNoPendingRun(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.orch.Execute(context.Background()), ErrNoPendingRun)
}

func TestExecuteBlockedByUnrelatedOutage(t *testing.T) {
	f := newFixture(t)
	f.outages.claimErr = outage.ErrOutageActive
	run := f.scheduleRun(t, shared.YM(2022, time.June), false)

	require.ErrorIs(t, f.orch.Execute(context.Background()), ErrRunBlocked)

	// The run stays pending for a later attempt.
	after, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Nil(t, after.StartedAt)
	require.Nil(t, after.FinishedAt)
}

func TestExecuteGeneratesStampsAndFinishes(t *testing.T) {
	f := newFixture(t)
	p := f.seedBoundedPeriod(t)
	run := f.scheduleRun(t, shared.YM(2022, time.June), true)

	require.NoError(t, f.orch.Execute(context.Background()))

	// January through March booked, self-confirmed by the bulk stamp.
	bookings, err := f.orders.ListBookings(context.Background(), p.OrderID)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
	for _, b := range bookings {
		require.True(t, b.Transmitted())
		require.NotNil(t, b.ConfirmedAt)
		require.NotNil(t, b.RunPeriod)
		require.Equal(t, shared.YM(2022, time.June), *b.RunPeriod)
	}

	// The period's coverage is complete: closed and out of the backlog.
	after, err := f.orders.GetPeriod(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, after.BookingsGenerated)
	require.NotNil(t, after.SupersededUntil)

	backlog, err := f.orders.ListBacklogPeriods(context.Background())
	require.NoError(t, err)
	require.Empty(t, backlog)

	require.Len(t, f.storage.files, 1)
	require.Equal(t, []int64{run.ID}, f.outages.claims)
	require.Equal(t, []int64{run.ID}, f.outages.closes)

	finished, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.StartedAt)
	require.NotNil(t, finished.FinishedAt)
}

func TestExecuteDeferredOrderSkipsBulkStamp(t *testing.T) {
	f := newFixture(t)
	p := f.seedBoundedPeriod(t)

	f.orders.mu.Lock()
	ord := f.orders.orders[p.OrderID]
	until := date(2022, 9, 1)
	ord.DeferredUntil = &until
	f.orders.orders[ord.ID] = ord
	f.orders.mu.Unlock()

	f.scheduleRun(t, shared.YM(2022, time.June), false)
	require.NoError(t, f.orch.Execute(context.Background()))

	// Bookings exist but stay pending for the transfer cycle.
	bookings, err := f.orders.ListBookings(context.Background(), p.OrderID)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
	for _, b := range bookings {
		require.False(t, b.Transmitted())
	}
}

func TestExecuteUnconfirmedTransmissionDefersOrder(t *testing.T) {
	f := newFixture(t)
	p := f.seedBoundedPeriod(t)

	at := date(2022, 6, 15)
	ref := "batch-9"
	f.orders.addBooking(order.Booking{
		OrderPeriodID: p.ID,
		Code:          shared.CodeMaintenance,
		Period:        shared.YM(2022, time.January),
		BatchRef:      &ref,
		TransmittedAt: &at,
	})

	f.scheduleRun(t, shared.YM(2022, time.June), false)
	require.NoError(t, f.orch.Execute(context.Background()))

	// The finalizing pass generated the remaining months unstamped.
	pending, err := f.orders.ListUntransmittedBookings(context.Background(), p.OrderID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestExecuteFileDeliveryFailureNotifiesAndContinues(t *testing.T) {
	f := newFixture(t)
	f.seedBoundedPeriod(t)
	f.storage.err = errors.New("sftp down")
	run := f.scheduleRun(t, shared.YM(2022, time.June), true)

	require.NoError(t, f.orch.Execute(context.Background()))

	require.Contains(t, f.notifier.subjects, "accrual file delivery failed")
	finished, err := f.runs.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.FinishedAt)
}

func TestExecuteOpenEndedPeriodStaysInBacklog(t *testing.T) {
	f := newFixture(t)
	ord := f.orders.addOrder(order.Order{Type: shared.ObligationMaintenance, CaseID: "2022-002", PayerID: "P-2", PayeeID: "R-2"})
	p := f.orders.addPeriod(order.OrderPeriod{
		OrderID:    ord.ID,
		DecisionID: 101,
		Kind:       order.DecisionNew,
		Amount:     decimal.NewFromInt(1500),
		Currency:   "NOK",
		PeriodFrom: date(2022, 5, 1),
	})

	f.scheduleRun(t, shared.YM(2022, time.June), false)
	require.NoError(t, f.orch.Execute(context.Background()))

	// May through July booked, but the open-ended period keeps owing
	// future months.
	bookings, err := f.orders.ListBookings(context.Background(), ord.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 3)

	after, err := f.orders.GetPeriod(context.Background(), p.ID)
	require.NoError(t, err)
	require.False(t, after.BookingsGenerated)
	require.Nil(t, after.SupersededUntil)
}

func TestExecuteIsIdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t)
	p := f.seedBoundedPeriod(t)
	f.scheduleRun(t, shared.YM(2022, time.June), false)
	require.NoError(t, f.orch.Execute(context.Background()))

	f.scheduleRun(t, shared.YM(2022, time.July), false)
	require.NoError(t, f.orch.Execute(context.Background()))

	bookings, err := f.orders.ListBookings(context.Background(), p.OrderID)
	require.NoError(t, err)
	require.Len(t, bookings, 3)
}
