package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/go_sales/internal/service"
)

type RouterConfig struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

// Services groups the application services exposed over HTTP.
type Services struct {
	Catalog   *service.Catalog
	Orders    *service.Orders
	Lifecycle *service.OrderLifecycle
}

func NewRouter(svc Services, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	customers := NewCustomersHandler(svc.Catalog, cfg.RequestTimeout, logger)
	products := NewProductsHandler(svc.Catalog, cfg.RequestTimeout, logger)
	orders := NewOrdersHandler(svc.Orders, svc.Lifecycle, cfg.RequestTimeout, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(MaxBodySizeMiddleware(cfg.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/customers", func(r chi.Router) {
			r.Get("/", customers.ListCustomers)
			r.Post("/", customers.CreateCustomer)
			r.Get("/companies", customers.ListCompanies)
			r.Get("/{customer_id}", customers.GetCustomer)
			r.Patch("/{customer_id}", customers.UpdateCustomer)
			r.Get("/{customer_id}/orders", customers.CustomerOrders)
			r.Get("/{customer_id}/stats", customers.CustomerStats)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", products.ListProducts)
			r.Post("/", products.CreateProduct)
			r.Get("/{product_id}", products.GetProduct)
			r.Patch("/{product_id}", products.UpdateProduct)
			r.Get("/{product_id}/availability", products.Availability)
			r.Post("/{product_id}/stock", products.AdjustStock)
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/status", products.InventoryStatus)
			r.Get("/low_stock", products.LowStock)
		})

		r.Get("/reservations", products.ListReservations)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orders.ListOrders)
			r.Post("/", orders.CreateOrder)
			r.Get("/dashboard", orders.Dashboard)

			r.Route("/{order_id}", func(r chi.Router) {
				r.Get("/", orders.GetOrder)
				r.Post("/confirm", orders.Confirm)
				r.Post("/cancel", orders.Cancel)
				r.Patch("/status", orders.UpdateStatus)
				r.Get("/totals", orders.Totals)

				r.Get("/lines", orders.ListLines)
				r.Post("/lines", orders.AddLine)
				r.Patch("/lines/{line_id}", orders.UpdateLine)
				r.Delete("/lines/{line_id}", orders.RemoveLine)
			})
		})
	})

	return r
}
