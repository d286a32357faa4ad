package outage

import (
	"context"
	"time"
)

// Service exposes the outage control surface and the gates other
// components consult before touching the outside world.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create opens a manual outage window.
func (s *Service) Create(ctx context.Context, in CreateInput) (Outage, error) {
	return s.repo.InsertIfNoneOpen(ctx, Outage{
		From:              s.now(),
		Creator:           in.Creator,
		Reason:            in.Reason,
		SuppressIngestion: in.SuppressIngestion,
	})
}

// List returns all outage windows.
func (s *Service) List(ctx context.Context) ([]Outage, error) {
	return s.repo.List(ctx)
}

// Close ends an open outage window.
func (s *Service) Close(ctx context.Context, id int64) error {
	return s.repo.Close(ctx, id, s.now())
}

// Relink attaches an open outage to a new run attempt. Used by an
// operator to resume after a failed run left its outage open.
func (s *Service) Relink(ctx context.Context, id, runID int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.LinkRun(ctx, id, runID)
}

// Open returns the currently open outage, if any.
func (s *Service) Open(ctx context.Context) (Outage, bool, error) {
	return s.repo.FindOpen(ctx)
}

// IngestionSuppressed reports whether decision ingress is blocked by
// an open outage carrying the suppress-ingestion flag.
func (s *Service) IngestionSuppressed(ctx context.Context) (bool, error) {
	o, ok, err := s.repo.FindOpen(ctx)
	if err != nil {
		return false, err
	}
	return ok && o.SuppressIngestion, nil
}

// TransmissionBlocked reports whether external submission must pause.
// Any open outage blocks transmission.
func (s *Service) TransmissionBlocked(ctx context.Context) (bool, error) {
	_, ok, err := s.repo.FindOpen(ctx)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ClaimForRun obtains the run's exclusive outage. An open outage
// linked to this run is reused (manual resume); an unrelated open
// outage blocks with ErrOutageActive; otherwise a fresh linked outage
// is created.
func (s *Service) ClaimForRun(ctx context.Context, runID int64, reason string) (Outage, error) {
	open, ok, err := s.repo.FindOpen(ctx)
	if err != nil {
		return Outage{}, err
	}
	if ok {
		if open.LinkedTo(runID) {
			return open, nil
		}
		return Outage{}, ErrOutageActive
	}
	return s.repo.InsertIfNoneOpen(ctx, Outage{
		RunID:   &runID,
		From:    s.now(),
		Creator: "accrual-run",
		Reason:  reason,
	})
}

// CloseForRun ends the outage belonging to a finished run.
func (s *Service) CloseForRun(ctx context.Context, runID int64) error {
	open, ok, err := s.repo.FindOpen(ctx)
	if err != nil {
		return err
	}
	if !ok || !open.LinkedTo(runID) {
		return ErrNotFound
	}
	return s.repo.Close(ctx, open.ID, s.now())
}
