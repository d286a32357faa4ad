package outage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/oppdrag/oppdrag/internal/platform/httpx"
)

// Handler exposes the outage control surface.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// MountRoutes attaches outage routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/link-run/{runID}", h.linkRun)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	outages, err := h.service.List(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, outages)
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
	o, err := h.service.Create(r.Context(), in)
	if errors.Is(err, ErrOutageActive) {
		httpx.Problem(w, http.StatusConflict, "Outage Active", err.Error())
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, o)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid outage id")
		return
	}
	switch err := h.service.Close(r.Context(), id); {
	case errors.Is(err, ErrAlreadyClosed):
		httpx.Problem(w, http.StatusConflict, "Already Closed", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case err != nil:
		httpx.RespondError(w, err)
	default:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "closed"})
	}
}

// linkRun attaches an open outage to a new run attempt so a failed
// run can be resumed.
func (h *Handler) linkRun(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid outage id")
		return
	}
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid run id")
		return
	}
	switch err := h.service.Relink(r.Context(), id, runID); {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case err != nil:
		httpx.RespondError(w, err)
	default:
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "linked"})
	}
}
