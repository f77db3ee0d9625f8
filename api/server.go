/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Configured origins
  5. RateLimit:  Token bucket per client IP (429 + Retry-After)

ROUTE GROUPS:
  /health                 Liveness
  /api/roles              Schedule table
  /api/employees/*        Read-only enrollment and position queries
  /api/scenarios          Demo cohorts
  /api/custody/*          Token balances
  /api/claims             Claim (bearer token)
  /api/admin/*            Registration and reconciliation (bearer token, admin)

SEE ALSO:
  - handlers.go: Handler implementations
  - ratelimit.go: Per-IP limiter
  - auth/auth.go: Bearer token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/equity-vesting/auth"
	"github.com/warp/equity-vesting/config"
)

// NewRouter creates a new router with all routes configured. A nil
// authenticator leaves the protected routes answering 401.
func NewRouter(h *Handler, cfg config.ServerConfig, authn *auth.JWTAuthenticator) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
	}))
	r.Use(NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/roles", h.ListRoles)

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Get("/{id}", h.GetEmployee)
			r.Get("/{id}/claimable", h.GetClaimable)
			r.Get("/{id}/position", h.GetPosition)
			r.Get("/{id}/unlocks", h.GetUnlocks)
			r.Get("/{id}/claims", h.GetClaims)
		})

		r.Get("/scenarios", h.ListScenarios)

		r.Get("/custody/balance/{id}", h.GetBalance)
		r.Get("/custody/reserve", h.GetReserve)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(authn))

			r.Post("/claims", h.Claim)

			r.Route("/admin", func(r chi.Router) {
				// Registry enforces the admin gate for these two.
				r.Post("/employees", h.RegisterEmployees)
				r.Post("/scenarios/load", h.LoadScenario)
				r.Get("/reconciliation", h.requireAdmin(h.GetReconciliation))
				r.Post("/reconciliation/run", h.requireAdmin(h.RunReconciliation))
			})
		})
	})

	return r
}
