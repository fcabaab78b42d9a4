package gateway

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Mowsikan-Hariharasudhan/EcoFinds-sub001/pkg/metrics"
)

// NewRouter assembles the HTTP surface: cart, checkout and order routes
// behind the shared middleware stack.
func NewRouter(carts CartAPI, checkout CheckoutAPI, orders OrdersAPI, m *metrics.EngineMetrics) http.Handler {
	cartHandler := NewCartHandler(carts)
	checkoutHandler := NewCheckoutHandler(checkout)
	ordersHandler := NewOrdersHandler(orders)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware(m))
	r.Use(AuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			r.Delete("/", cartHandler.ClearCart)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", checkoutHandler.CreateOrder)
			r.Get("/", ordersHandler.ListOrders)
			r.Route("/{order_number}", func(r chi.Router) {
				r.Get("/", ordersHandler.GetOrder)
				r.Patch("/status", ordersHandler.UpdateStatus)
				r.Post("/cancel", ordersHandler.CancelOrder)
				r.Post("/messages", ordersHandler.AddMessage)
			})
		})
	})

	return r
}
