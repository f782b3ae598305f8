/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/food-types              Food types and bound-water fractions
  /api/owners/{owner}/*        Per-owner ledger (see handlers.go)
  /api/replay                  Replay every owner
  /api/scenarios/*             Demo data

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// DefaultAllowedOrigins is used when the caller passes none.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/food-types", h.ListFoodTypes)
		r.Post("/replay", h.ReplayAll)

		r.Route("/owners/{owner}", func(r chi.Router) {
			r.Route("/food-items", func(r chi.Router) {
				r.Get("/", h.ListFoodItems)
				r.Post("/", h.PrepareFoodItem)
				r.Get("/{id}", h.GetFoodItem)
				r.Delete("/{id}", h.DeleteFoodItem)
				r.Post("/{id}/water", h.AddWater)
				r.Post("/{id}/food", h.AddFood)
				r.Post("/{id}/remaining", h.RecordRemaining)
				r.Post("/{id}/settle", h.Settle)
				r.Post("/{id}/replay", h.ReplayFoodItem)
			})

			r.Post("/observations", h.RecordObservation)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", h.ListEvents)
				r.Put("/{id}", h.CorrectEvent)
				r.Delete("/{id}", h.DeleteEvent)
			})

			r.Get("/stats/daily", h.DailyStats)
			r.Post("/replay", h.ReplayOwner)
			r.Get("/verify", h.Verify)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
