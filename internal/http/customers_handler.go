package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/service"
	"github.com/fjod/go_sales/internal/store"
)

type CustomersHandler struct {
	catalog *service.Catalog
	timeout time.Duration
	logger  *zap.Logger
}

func NewCustomersHandler(catalog *service.Catalog, timeout time.Duration, logger *zap.Logger) *CustomersHandler {
	return &CustomersHandler{
		catalog: catalog,
		timeout: timeout,
		logger:  logger,
	}
}

func (h *CustomersHandler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateCustomerRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	c := req.toDomain()
	if err := h.catalog.CreateCustomer(ctx, c); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusCreated, presentCustomer(c))
}

func (h *CustomersHandler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	filter := store.CustomerFilter{Country: r.URL.Query().Get("country")}
	if raw := r.URL.Query().Get("is_company"); raw != "" {
		isCompany, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_is_company", "is_company must be a boolean")
			return
		}
		filter.IsCompany = &isCompany
	}

	h.listCustomers(ctx, w, r, filter)
}

// ListCompanies lists company customers only.
func (h *CustomersHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	isCompany := true
	h.listCustomers(ctx, w, r, store.CustomerFilter{IsCompany: &isCompany})
}

func (h *CustomersHandler) listCustomers(ctx context.Context, w http.ResponseWriter, r *http.Request, filter store.CustomerFilter) {
	customers, err := h.catalog.ListCustomers(ctx, filter)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	out := make([]CustomerDTO, 0, len(customers))
	for _, c := range customers {
		out = append(out, presentCustomer(c))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *CustomersHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "customer_id")
	if !ok {
		return
	}

	c, err := h.catalog.GetCustomer(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentCustomer(c))
}

func (h *CustomersHandler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "customer_id")
	if !ok {
		return
	}

	var req UpdateCustomerRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.catalog.UpdateCustomer(ctx, id, req.toUpdate())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentCustomer(c))
}

func (h *CustomersHandler) CustomerOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "customer_id")
	if !ok {
		return
	}

	orders, err := h.catalog.CustomerOrders(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, presentOrderSummaries(orders))
}

func (h *CustomersHandler) CustomerStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := urlID(w, r, "customer_id")
	if !ok {
		return
	}

	stats, err := h.catalog.CustomerStats(ctx, id)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
