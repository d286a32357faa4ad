package transfer

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oppdrag/oppdrag/internal/platform/cache"
	"github.com/oppdrag/oppdrag/internal/platform/httpx"
	"github.com/oppdrag/oppdrag/jobs"
)

// Handler exposes the transfer trigger and the ledger maintenance
// flag.
type Handler struct {
	enqueuer jobs.Enqueuer
	flags    *cache.FlagStore
}

// NewHandler constructs a Handler.
func NewHandler(enqueuer jobs.Enqueuer, flags *cache.FlagStore) *Handler {
	return &Handler{enqueuer: enqueuer, flags: flags}
}

// MountRoutes attaches transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/execute", h.execute)
	r.Get("/maintenance", h.maintenanceStatus)
	r.Put("/maintenance", h.setMaintenance)
}

type executeRequest struct {
	OrderIDs []int64 `json:"orderIds"`
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.enqueuer.EnqueueTransferCycle(r.Context(), jobs.TransferCyclePayload{OrderIDs: req.OrderIDs}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}

func (h *Handler) maintenanceStatus(w http.ResponseWriter, r *http.Request) {
	active, err := h.flags.MaintenanceActive(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"active": active})
}

type maintenanceRequest struct {
	Active     bool `json:"active"`
	TTLMinutes int  `json:"ttlMinutes"`
}

func (h *Handler) setMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.flags.SetMaintenance(r.Context(), req.Active, time.Duration(req.TTLMinutes)*time.Minute); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}
