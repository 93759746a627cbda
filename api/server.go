/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and routes. This is the
  wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the mobile/web clients
  5. Authenticator: JWT bearer identity, on the callable routes only

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured. jwtSecret guards
// the callable endpoints.
func NewRouter(h *Handler, jwtSecret string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Boundary endpoints: provisioning event and public catalog.
		r.Post("/accounts", h.ProvisionAccount)
		r.Get("/rewards", h.ListRewards)
		r.Post("/admin/rewards", h.SaveReward)

		// Callable endpoints: authenticated caller identity required.
		r.Group(func(r chi.Router) {
			r.Use(Authenticator(jwtSecret))
			r.Post("/steps/sync", h.SyncSteps)
			r.Post("/rewards/{id}/redeem", h.RedeemReward)
			r.Get("/me", h.GetAccount)
			r.Get("/wallet", h.GetWallet)
			r.Get("/orders", h.ListOrders)
		})
	})

	return r
}
