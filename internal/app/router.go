package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/oppdrag/oppdrag/internal/accrual"
	"github.com/oppdrag/oppdrag/internal/decision"
	"github.com/oppdrag/oppdrag/internal/outage"
	"github.com/oppdrag/oppdrag/internal/transfer"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	DecisionHandler *decision.Handler
	OutageHandler   *outage.Handler
	AccrualHandler  *accrual.Handler
	TransferHandler *transfer.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(params.Config.AppRequestTimeout))
	r.Use(httprate.LimitByIP(300, time.Minute))
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.DecisionHandler.MountRoutes(r)
		r.Route("/outages", params.OutageHandler.MountRoutes)
		r.Route("/runs", params.AccrualHandler.MountRoutes)
		r.Route("/transfers", params.TransferHandler.MountRoutes)
	})

	return r
}
