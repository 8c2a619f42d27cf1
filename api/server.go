/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the back-office frontend
  5. Role:       Actor role from bearer token or X-Actor-Role

ROUTE GROUPS:
  /api/credits/*        Credit lifecycle and servicing operations
  /api/installments/*   Payments
  /api/admin/*          Sweep
  /api/scenarios/*      Demo portfolios
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Role middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// JWTSecret enables bearer-token roles; empty trusts X-Actor-Role.
	JWTSecret string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", RoleHeader, "Idempotency-Key"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RoleMiddleware(opts.JWTSecret))

		// Credit routes
		r.Route("/credits", func(r chi.Router) {
			r.Get("/", h.ListCredits)
			r.Post("/", h.CreateCredit)
			r.Get("/{id}", h.GetSnapshot)
			r.Put("/{id}", h.EditCredit)
			r.Get("/{id}/snapshot", h.GetSnapshot)
			r.Post("/{id}/cancel", h.CancelCredit)
			r.Post("/{id}/cancel/quote", h.QuoteCancellation)
			r.Post("/{id}/refinance", h.RefinanceCredit)
			r.Post("/{id}/void", h.VoidCredit)
		})

		// Payment routes
		r.Route("/installments", func(r chi.Router) {
			r.Post("/{id}/payments", h.ApplyPayment)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.TriggerSweep)
			r.Get("/sweep", h.GetLastSweep)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
