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
  /api/showings/*      Showings, availability, capacity overrides
  /api/reservations/*  Reservation lifecycle
  /api/customers/*     Trust/block records
  /api/vouchers/*      Voucher ledger
  /api/sweeps/*        Manual sweep triggers
  /api/audit/*         Consistency auditor
  /api/scenarios/*     Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		// Showing routes
		r.Route("/showings", func(r chi.Router) {
			r.Get("/", h.ListShowings)
			r.Post("/", h.CreateShowing)
			r.Get("/{id}", h.GetShowing)
			r.Get("/{id}/availability", h.GetAvailability)
			r.Get("/{id}/reservations", h.ListShowingReservations)
			r.Put("/{id}/override", h.ApplyOverride)
			r.Post("/{id}/override/toggle", h.ToggleOverride)
			r.Delete("/{id}/override", h.ClearOverride)
		})

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Get("/", h.ListReservations)
			r.Post("/", h.CreateReservation)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/transition", h.Transition)
			r.Post("/{id}/payment", h.SetPayment)
			r.Post("/{id}/no-show", h.MarkNoShow)
			r.Post("/{id}/no-show/reverse", h.ReverseNoShow)
		})

		// Customer / trust routes
		r.Route("/customers", func(r chi.Router) {
			r.Get("/{email}/block", h.GetBlock)
			r.Post("/{email}/unblock", h.Unblock)
			r.Get("/{email}/reservations", h.ListCustomerReservations)
		})

		// Voucher routes
		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/", h.IssueVoucher)
			r.Get("/{code}", h.GetVoucher)
			r.Get("/{code}/validate", h.ValidateVoucher)
			r.Post("/{code}/apply", h.ApplyVoucher)
			r.Post("/{code}/activate", h.ActivateVoucher)
		})

		// Sweep routes (also run on a schedule)
		r.Route("/sweeps", func(r chi.Router) {
			r.Post("/options", h.SweepOptions)
			r.Post("/payments", h.SweepPayments)
			r.Post("/backfill", h.BackfillPayments)
		})

		// Audit routes
		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.RunAudit)
			r.Post("/fix", h.FixIssue)
			r.Post("/fix-all", h.FixAllIssues)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// Landing page listing the API surface.
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Booking Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Booking Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/showings">/api/showings</a> - List showings</li>
<li><a href="/api/reservations">/api/reservations</a> - List reservations</li>
<li><a href="/api/vouchers">/api/vouchers</a> - List vouchers</li>
<li><a href="/api/audit">/api/audit</a> - Run a consistency audit</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
