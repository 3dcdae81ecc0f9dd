package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/evbooking/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetBooking)
				r.Post("/checkout", h.Checkout)
				r.Post("/redirect", h.Redirect)
				r.Post("/message", h.Message)
				r.Get("/reconciliation", h.Reconciliation)
				r.Delete("/reconciliation", h.AbandonReconciliation)
			})
		})

		r.Get("/ws/bookings/{id}", h.Events)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
