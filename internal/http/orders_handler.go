package http

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/domain"
	"github.com/fjod/go_sales/internal/service"
	"github.com/fjod/go_sales/internal/store"
)

type OrdersHandler struct {
	orders    *service.Orders
	lifecycle *service.OrderLifecycle
	timeout   time.Duration
	logger    *zap.Logger
}

func NewOrdersHandler(orders *service.Orders, lifecycle *service.OrderLifecycle, timeout time.Duration, logger *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		orders:    orders,
		lifecycle: lifecycle,
		timeout:   timeout,
		logger:    logger,
	}
}

func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_customer_id", "customer_id must be positive")
		return
	}

	o, err := h.orders.CreateOrder(ctx, req.toInput())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, presentOrderDetail(o))
}

func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customerID, ok := queryInt(w, r, "customer_id", 0)
	if !ok {
		return
	}
	filter := store.OrderFilter{CustomerID: customerID}
	if raw := r.URL.Query().Get("status"); raw != "" {
		filter.Status = domain.OrderStatus(raw)
		if !filter.Status.IsValid() {
			respondError(w, http.StatusBadRequest, "invalid_status", "unknown order status "+raw)
			return
		}
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentOrderSummaries(orders))
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentOrderDetail(o))
}

func (h *OrdersHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.OrderStatusConfirmed)
}

func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.OrderStatusCancelled)
}

// UpdateStatus moves the order to the status named in the body.
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	h.transition(w, r, req.Status)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, to domain.OrderStatus) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}

	o, err := h.lifecycle.Transition(ctx, id, to)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentOrderDetail(o))
}

func (h *OrdersHandler) Totals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}

	totals, err := h.orders.Totals(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, totals)
}

func (h *OrdersHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	d, err := h.orders.Dashboard(ctx)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, d)
}
