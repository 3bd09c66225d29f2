package http

import (
	"context"
	"net/http"

	"github.com/fjod/go_sales/internal/service"
)

func (h *OrdersHandler) ListLines(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentLines(o.Lines))
}

func (h *OrdersHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}

	var req LineRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	line, err := h.orders.AddLine(ctx, orderID, req.toInput())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, presentLine(*line))
}

func (h *OrdersHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}
	lineID, ok := urlID(w, r, "line_id")
	if !ok {
		return
	}

	var req UpdateLineRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	line, err := h.orders.UpdateLine(ctx, orderID, lineID, service.LineUpdate{
		ProductID:   req.ProductID,
		Qty:         req.Qty,
		UnitPrice:   req.UnitPrice,
		DiscountPct: req.DiscountPct,
	})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentLine(*line))
}

func (h *OrdersHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := urlID(w, r, "order_id")
	if !ok {
		return
	}
	lineID, ok := urlID(w, r, "line_id")
	if !ok {
		return
	}

	if err := h.orders.RemoveLine(ctx, orderID, lineID); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
