/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, echoed in logs
  2. Logger:     One zap line per request (logging.RequestLogger)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus counter + latency by route pattern
  5. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/tiers/*          Ladder and spend evaluation
  /api/customers/*      Customers, standings, ledger writes
  /api/transactions/*   Activity feed, reversals
  /api/unlocks/*        Prizes and scanner
  /api/scenarios/*      Demo scenarios
  /metrics              Prometheus
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/incentive-engine/logging"
)

// DefaultCORSOrigins are the dashboard dev server and the bundled build.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a router with all routes configured. Empty origins
// means DefaultCORSOrigins.
func NewRouter(h *Handler, origins []string) *chi.Mux {
	if len(origins) == 0 {
		origins = DefaultCORSOrigins
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(h.log()))
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.GetTiers)
			r.Get("/evaluate", h.EvaluateSpend)
		})

		r.Route("/customers", func(r chi.Router) {
			r.Get("/", h.ListCustomers)
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/progress", h.GetProgress)
			r.Get("/{id}/transactions", h.GetTransactions)
			r.Get("/{id}/unlocks", h.ListUnlocks)
			r.Post("/{id}/sales", h.RecordSale)
			r.Post("/{id}/refunds", h.RecordRefund)
			r.Post("/{id}/adjustments", h.RecordAdjustment)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", h.ListRecentTransactions)
			r.Delete("/{id}", h.ReverseTransaction)
		})

		r.Route("/unlocks", func(r chi.Router) {
			r.Get("/pending", h.ListPendingUnlocks)
			r.Get("/runs", h.ListScanRuns)
			r.Post("/scan", h.TriggerScan)
			r.Post("/{id}/deliver", h.DeliverUnlock)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// instrument records request count and latency by route pattern, so
// /api/customers/{id} is one series however many customers there are.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.HTTPRequest(route, r.Method, status, time.Since(start))
	})
}
