package accrual

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/oppdrag/oppdrag/internal/platform/httpx"
	"github.com/oppdrag/oppdrag/internal/shared"
	"github.com/oppdrag/oppdrag/jobs"
)

// Handler exposes the accrual run surface: schedule, trigger, observe.
type Handler struct {
	runs     Repository
	enqueuer jobs.Enqueuer
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(runs Repository, enqueuer jobs.Enqueuer) *Handler {
	return &Handler{runs: runs, enqueuer: enqueuer, validate: validator.New()}
}

// MountRoutes attaches accrual routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Post("/", h.create)
	r.Post("/execute", h.execute)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, runs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid run id")
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target, err := shared.ParseYearMonth(in.TargetPeriod)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "targetPeriod must be YYYY-MM")
		return
	}
	run, err := h.runs.Insert(r.Context(), Run{
		RunDate:      in.RunDate,
		TargetPeriod: target,
		GenerateFile: in.GenerateFile,
		TransmitFile: in.TransmitFile,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, run)
}

// execute enqueues an accrual run; the worker claims and drives it.
func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	if err := h.enqueuer.EnqueueAccrualRun(r.Context(), jobs.AccrualRunPayload{}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
}
