package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/idempotency"
	"github.com/safar/restaurant-orders/internal/metrics"
	"github.com/safar/restaurant-orders/internal/observability"
)

const defaultTimeout = 30 * time.Second

type RouterDeps struct {
	Service Service
	Users   UserLookup
	DB      Pinger
	Logger  *zap.Logger
	// Metrics and Idempotency are optional.
	Metrics        *metrics.ServerMetrics
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Timeout        time.Duration
}

// NewRouter wires the shared middleware and every route of the API.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.Recoverer(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(middleware.Timeout(timeout))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, "route_not_found", fmt.Sprintf("no route for %s", req.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	r.Get("/health", NewHealthHandlers(deps.DB).Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/orders", func(orders chi.Router) {
		orders.Use(RequireActor(deps.Users))
		if deps.Idempotency != nil {
			orders.Use(idempotency.Middleware(deps.Idempotency, deps.IdempotencyTTL, actorScope))
		}
		NewOrderHandlers(deps.Service).Routes(orders)
	})
	r.Route("/coupons", func(coupons chi.Router) {
		coupons.Use(RequireActor(deps.Users))
		NewCouponHandlers(deps.Service).Routes(coupons)
	})
	r.Route("/payments", NewPaymentHandlers(deps.Service).Routes)

	return r
}
