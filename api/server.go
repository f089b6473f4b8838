/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/plans/*        Feeding plan and rule management
  /api/rules/*        Rule day-range updates
  /api/assignments/*  Plan-to-lot bindings, due resolution, executions
  /api/lots/*         Per-lot assignment lookups
  /api/executions/*   Execution state transitions and corrections
  /api/inventory/*    Ingresses, stock, movements, expiry projections

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Plan routes
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.CreatePlan)
			r.Get("/{id}", h.GetPlan)
			r.Delete("/{id}", h.DeactivatePlan)
			r.Get("/{id}/rules", h.ListRules)
			r.Post("/{id}/rules", h.CreateRule)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Put("/{id}/range", h.UpdateRuleRange)
		})

		// Assignment routes
		r.Route("/assignments", func(r chi.Router) {
			r.Post("/", h.CreateAssignment)
			r.Get("/{id}", h.GetAssignment)
			r.Post("/{id}/close", h.CloseAssignment)
			r.Get("/{id}/due", h.GetDue)
			r.Get("/{id}/executions", h.ListExecutions)
			r.Post("/{id}/executions", h.RegisterExecution)
		})

		// Lot routes
		r.Route("/lots", func(r chi.Router) {
			r.Get("/{id}/assignments", h.ListLotAssignments)
		})

		// Execution routes
		r.Route("/executions", func(r chi.Router) {
			r.Get("/{id}", h.GetExecution)
			r.Post("/{id}/execute", h.ExecutePending)
			r.Post("/{id}/omit", h.OmitExecution)
			r.Get("/{id}/corrections", h.ListCorrections)
			r.Post("/{id}/corrections", h.CorrectExecution)
		})

		// Inventory routes
		r.Route("/inventory", func(r chi.Router) {
			r.Post("/entries", h.RegisterEntry)
			r.Get("/expiring", h.ListExpiring)
			r.Route("/products/{id}", func(r chi.Router) {
				r.Get("/stock", h.GetStock)
				r.Get("/batches", h.ListBatches)
				r.Get("/movements", h.ListMovements)
			})
		})
	})

	return r
}
