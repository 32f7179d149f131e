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
  /api/locations/*       Stored locations
  /api/distances/*       Distance records
  /api/trips/*           Trips
  /api/autosplit         Autosplit preview
  /api/bearers/*         Cost bearers and their rates
  /api/passenger-rate    Passenger-carry rate
  /api/reports/*         Monthly/yearly reports and submission status

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Location routes
		r.Route("/locations", func(r chi.Router) {
			r.Get("/", h.ListLocations)
			r.Post("/", h.CreateLocation)
			r.Get("/{id}", h.GetLocation)
			r.Put("/{id}", h.UpdateLocation)
			r.Delete("/{id}", h.DeleteLocation)
		})

		// Distance routes
		r.Route("/distances", func(r chi.Router) {
			r.Get("/", h.ListDistances)
			r.Get("/resolve", h.ResolveDistance)
			r.Put("/", h.UpsertDistance)
			r.Delete("/", h.DeleteDistance)
		})

		// Trip routes
		r.Route("/trips", func(r chi.Router) {
			r.Get("/", h.ListTrips)
			r.Post("/", h.CreateTrip)
			r.Get("/{id}", h.GetTrip)
			r.Put("/{id}", h.UpdateTrip)
			r.Delete("/{id}", h.DeleteTrip)
		})

		// Autosplit preview
		r.Get("/autosplit", h.PreviewAutosplit)

		// Cost bearer routes
		r.Route("/bearers", func(r chi.Router) {
			r.Get("/", h.ListBearers)
			r.Post("/", h.CreateBearer)
			r.Get("/{id}", h.GetBearer)
			r.Put("/{id}", h.UpdateBearer)
			r.Delete("/{id}", h.DeleteBearer)
			r.Put("/{id}/rates", h.SetBearerRate)
			r.Delete("/{id}/rates", h.DeleteBearerRate)
		})

		// Passenger-carry rate routes
		r.Route("/passenger-rate", func(r chi.Router) {
			r.Get("/", h.GetPassengerRates)
			r.Put("/", h.SetPassengerRate)
			r.Delete("/", h.DeletePassengerRate)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/{year}", h.YearlyReport)
			r.Get("/{year}/{month}", h.MonthlyReport)
			r.Post("/{year}/{month}/status", h.TransitionStatus)
		})
	})

	return r
}
