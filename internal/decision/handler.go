package decision

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oppdrag/oppdrag/internal/order"
	"github.com/oppdrag/oppdrag/internal/platform/httpx"
)

// Handler exposes decision ingress and order lookup.
type Handler struct {
	service *Service
	orders  order.Repository
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, orders order.Repository) *Handler {
	return &Handler{service: service, orders: orders}
}

// MountRoutes attaches decision and order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/decisions", h.processDecision)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *Handler) processDecision(w http.ResponseWriter, r *http.Request) {
	var d order.Decision
	if err := httpx.DecodeJSON(r, &d); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	orderID, err := h.service.ProcessDecision(r.Context(), d)
	switch {
	case errors.Is(err, ErrIngestionSuppressed):
		httpx.Problem(w, http.StatusConflict, "Ingestion Suppressed", err.Error())
	case errors.Is(err, ErrInvalidCurrency), errors.Is(err, order.ErrInvalidPeriodRange):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case err != nil:
		httpx.RespondError(w, err)
	default:
		httpx.JSON(w, http.StatusOK, map[string]int64{"orderId": orderID})
	}
}

type orderView struct {
	Order    order.Order         `json:"order"`
	Periods  []order.OrderPeriod `json:"periods"`
	Bookings []order.Booking     `json:"bookings"`
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	ord, err := h.orders.GetOrder(r.Context(), id)
	if errors.Is(err, order.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	periods, err := h.orders.ListPeriods(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bookings, err := h.orders.ListBookings(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orderView{Order: ord, Periods: periods, Bookings: bookings})
}
