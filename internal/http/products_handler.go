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

// ProductsHandler serves products and the inventory reports built on them.
type ProductsHandler struct {
	catalog *service.Catalog
	timeout time.Duration
	logger  *zap.Logger
}

func NewProductsHandler(catalog *service.Catalog, timeout time.Duration, logger *zap.Logger) *ProductsHandler {
	return &ProductsHandler{
		catalog: catalog,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *ProductsHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p := req.toDomain()
	if err := h.catalog.CreateProduct(ctx, p); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	filter := store.ProductFilter{
		Category: r.URL.Query().Get("category"),
		Type:     domain.ProductType(r.URL.Query().Get("type")),
	}

	products, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, products)
}

func (h *ProductsHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "product_id")
	if !ok {
		return
	}

	p, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "product_id")
	if !ok {
		return
	}

	var req UpdateProductRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.catalog.UpdateProduct(ctx, id, req.toUpdate())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) Availability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "product_id")
	if !ok {
		return
	}

	a, err := h.catalog.Availability(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, a)
}

func (h *ProductsHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "product_id")
	if !ok {
		return
	}

	var req AdjustStockRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		respondError(w, http.StatusBadRequest, "invalid_delta", "delta must not be zero")
		return
	}

	p, err := h.catalog.AdjustStock(ctx, id, req.Delta)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) InventoryStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, err := h.catalog.InventoryStatus(ctx)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *ProductsHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	threshold, ok := queryInt(w, r, "threshold", service.DefaultLowStockThreshold)
	if !ok {
		return
	}

	low, err := h.catalog.LowStock(ctx, threshold)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"threshold": threshold,
		"count":     len(low),
		"products":  low,
	})
}

func (h *ProductsHandler) ListReservations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, ok := queryInt(w, r, "order_id", 0)
	if !ok {
		return
	}
	productID, ok := queryInt(w, r, "product_id", 0)
	if !ok {
		return
	}

	reservations, err := h.catalog.ListReservations(ctx, store.ReservationFilter{OrderID: orderID, ProductID: productID})
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, reservations)
}
