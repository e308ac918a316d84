package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/referral-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/referral-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware реферального сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Post("/referral/code", h.GenerateCode)
		r.Get("/referral/{code}/stats", h.ReferralStats)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			if h.rateLimiter != nil {
				r.Use(h.rateLimiter.Handler)
			}

			r.Post("/purchase/buy", h.Buy)
			r.Get("/purchase", h.GetPurchases)

			r.Get("/dashboard/me", h.GetDashboard)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
