/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:     Unique ID per request for tracing
  2. RequestLogger: zap access log tagged with the request ID
  3. Recoverer:     Panic recovery (500 instead of crash)
  4. CORS:          Cross-origin requests for the HQ console
  5. Authenticate:  Bearer JWT on everything under /api

ROUTE GROUPS:
  /api/products/*       Catalog
  /api/pharmacies/*     Branches and their balance history
  /api/stock-txs/*      Stock ledger (admin)
  /api/orders/*         Order workflow
  /api/returns/*        Return workflow
  /api/credit/*         Settlement (admin)
  /api/audit/*          Ledger audit (admin)
  /healthz              Liveness, no auth

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate and RequireAdmin
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type RouterOptions struct {
	JWTSecret      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(opts.JWTSecret))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.With(RequireAdmin).Post("/", h.CreateProduct)
			r.Get("/{id}", h.GetProduct)
		})

		r.Route("/pharmacies", func(r chi.Router) {
			r.With(RequireAdmin).Post("/", h.CreatePharmacy)
			r.Get("/{id}", h.GetPharmacy)
			r.Get("/{id}/balance-txs", h.ListBalanceTxs)
		})

		r.Route("/stock-txs", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/", h.ListStockTxs)
			r.Post("/in", h.StockIn)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.ListOrders)
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Patch("/{id}/status", h.UpdateOrderStatus)
			r.With(RequireAdmin).Delete("/{id}", h.DeleteOrder)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", h.ListReturns)
			r.Post("/", h.CreateReturn)
			r.Get("/{id}", h.GetReturn)
			r.Patch("/{id}/status", h.UpdateReturnStatus)
			r.With(RequireAdmin).Delete("/{id}", h.DeleteReturn)
		})

		r.Route("/credit", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/settlement/{pharmacyId}", h.Settle)
			r.Get("/pending", h.PendingCredits)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/runs", h.ListAuditRuns)
			r.Post("/runs", h.TriggerAudit)
		})
	})

	return r
}
