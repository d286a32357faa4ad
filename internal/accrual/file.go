package accrual

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/oppdrag/oppdrag/internal/order"
)

// Storage is the boundary the generated file artifact is handed to.
// Implementations deliver it onwards to the external party.
type Storage interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Notifier surfaces conditions an operator must look at.
type Notifier interface {
	Notify(ctx context.Context, subject, detail string)
}

// LogNotifier is the default Notifier, writing to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at warning level.
func (n LogNotifier) Notify(_ context.Context, subject, detail string) {
	if n.Logger != nil {
		n.Logger.Warn(subject, slog.String("detail", detail))
	}
}

// LocalStorage writes artifacts to a directory, standing in for the
// SFTP-style transport boundary.
type LocalStorage struct {
	Dir string
}

// Save writes the artifact under the storage directory.
func (s LocalStorage) Save(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("accrual: storage dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return fmt.Errorf("accrual: write artifact: %w", err)
	}
	return nil
}

// BuildFile renders the run's pending bookings as a semicolon-
// separated artifact with a run-metadata header and a count trailer.
func BuildFile(run Run, bookings []order.Booking) (string, []byte) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "RUN;%d;%s;%s\n", run.ID, run.RunDate.Format("2006-01-02"), run.TargetPeriod)
	for _, b := range bookings {
		fmt.Fprintf(&buf, "BOOKING;%d;%s;%s;%s;%s;%d\n",
			b.OrderPeriodID, b.Code, b.Period, b.Classification, b.Application, b.DecisionID)
	}
	fmt.Fprintf(&buf, "END;%d\n", len(bookings))

	name := fmt.Sprintf("accrual-%s-%s.csv", run.TargetPeriod, uuid.NewString())
	return name, buf.Bytes()
}
