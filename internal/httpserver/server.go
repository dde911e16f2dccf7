package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/PortNumber53/marketplace-backend/internal/config"
	"github.com/PortNumber53/marketplace-backend/internal/handlers"
	"github.com/PortNumber53/marketplace-backend/internal/middleware"
)

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
}

// Dependencies are the collaborators the routes are built from.
type Dependencies struct {
	DB            handlers.Pinger
	Auth          *middleware.Authenticator
	StripeWebhook http.Handler
	PayPalWebhook http.Handler
	Ingest        handlers.ProductWriter
	Checkout      *handlers.CheckoutHandler
	Marketplace   *handlers.MarketplaceHandler
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Dependencies) *Server {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.AccessLog)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.CORS)

	auth := deps.Auth
	if auth == nil {
		auth = middleware.NewAuthenticator(cfg.JWTSecret)
	}

	router.Get("/healthz", handlers.Health(deps.DB))

	if deps.StripeWebhook != nil {
		router.Method(http.MethodPost, "/api/webhooks/stripe", deps.StripeWebhook)
	}
	if deps.PayPalWebhook != nil {
		router.Method(http.MethodPost, "/api/webhooks/paypal", deps.PayPalWebhook)
	}
	if deps.Ingest != nil {
		router.Post("/api/ingest", handlers.Ingest(deps.Ingest, cfg.IngestHMACSecret))
	}

	if deps.Checkout != nil {
		router.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)
			r.Post("/api/checkout/stripe", deps.Checkout.CreateStripe())
			r.Post("/api/checkout/paypal", deps.Checkout.CreatePayPal())
			r.Post("/api/checkout/paypal/capture", deps.Checkout.CapturePayPal())
		})
	}

	if deps.Marketplace != nil {
		router.Group(func(r chi.Router) {
			r.Use(auth.OptionalUser)
			r.Get("/api/marketplace/products", deps.Marketplace.ListProducts())
			r.Get("/api/marketplace/products/{slug}", deps.Marketplace.GetProduct())
			r.Get("/api/marketplace/access/{productID}", deps.Marketplace.CheckAccess())
			r.Get("/api/marketplace/download/{slug}", deps.Marketplace.Download())
		})
		router.With(auth.RequireUser).Get("/api/marketplace/purchases", deps.Marketplace.ListPurchases())
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
