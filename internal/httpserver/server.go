package httpserver

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PortNumber53/beat-storefront/backend/internal/config"
	"github.com/PortNumber53/beat-storefront/backend/internal/handlers"
	storemw "github.com/PortNumber53/beat-storefront/backend/internal/middleware"
	"github.com/PortNumber53/beat-storefront/backend/internal/worker"
)

// Deps are the collaborators the routes are built from. Nil optional fields
// leave their routes unregistered.
type Deps struct {
	DB       handlers.Pinger
	Checkout handlers.CheckoutService
	Coupons  handlers.CouponService
	Sessions handlers.SessionReader
	Jobs     handlers.JobQueue
	Webhook  http.Handler
	Limiter  storemw.Limiter
	Worker   *worker.Worker
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.Health(deps.DB))

	// Signature-verified; not rate limited so provider retries always land.
	if deps.Webhook != nil {
		router.Method(http.MethodPost, "/api/webhooks/stripe", deps.Webhook)
	}

	router.Group(func(r chi.Router) {
		if deps.Limiter != nil {
			r.Use(storemw.RateLimit(deps.Limiter))
		}
		if deps.Checkout != nil {
			r.Post("/api/cart/quote", handlers.QuoteCart(deps.Checkout))
			r.Post("/api/checkout", handlers.CreateCheckout(deps.Checkout))
		}
		if deps.Coupons != nil {
			r.Post("/api/coupons/validate", handlers.ValidateCoupon(deps.Coupons))
			r.Post("/api/coupons/redeem", handlers.RedeemCoupon(deps.Coupons))
		}
	})

	if deps.Sessions != nil {
		router.Get("/api/orders/{sessionID}", handlers.GetOrder(deps.Sessions))
	}

	router.Route("/api/admin", func(r chi.Router) {
		r.Use(storemw.RequireAdminToken(cfg.AdminToken))
		if deps.Coupons != nil {
			r.Post("/coupons", handlers.CreateCoupon(deps.Coupons))
			r.Post("/coupons/{code}/deactivate", handlers.DeactivateCoupon(deps.Coupons))
		}
		if deps.Jobs != nil && deps.Sessions != nil {
			handlers.NewJobHandler(deps.Jobs, deps.Sessions).RegisterRoutes(r)
		}
		// Unknown admin paths still go through the token check.
		r.HandleFunc("/*", http.NotFound)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WebhookTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start() error {
	if s.worker != nil {
		log.Println("[server] Starting job worker...")
		s.worker.Start(context.Background())
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		log.Println("[server] Shutting down job worker...")
		if err := s.worker.Stop(ctx); err != nil {
			log.Printf("[server] Worker shutdown error: %v", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
