// Package api provides the HTTP delivery server for hotfix binaries.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/narvanalabs/hotfix/internal/api/handlers"
	"github.com/narvanalabs/hotfix/internal/api/health"
	"github.com/narvanalabs/hotfix/internal/api/middleware"
	"github.com/narvanalabs/hotfix/internal/auth"
	"github.com/narvanalabs/hotfix/internal/delivery"
	"github.com/narvanalabs/hotfix/pkg/config"
)

// Version is set at build time using ldflags.
var Version = "dev"

// Server serves a delivery store over HTTP.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	store         *delivery.FileStore
	auth          *auth.Service
	config        *config.DeliveryConfig
	logger        *slog.Logger
	healthChecker *health.Checker
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealthComponent adds a non-critical component to the health check.
func WithHealthComponent(name string, p health.Pinger) ServerOption {
	return func(s *Server) {
		s.healthChecker.Register(name, p, false)
	}
}

// NewServer creates a delivery server. Without an auth service the write
// endpoints are not mounted.
func NewServer(cfg *config.DeliveryConfig, st *delivery.FileStore, authSvc *auth.Service, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:         st,
		auth:          authSvc,
		config:        cfg,
		logger:        logger,
		healthChecker: health.NewChecker(Version),
	}
	s.healthChecker.Register("store", st, true)
	for _, opt := range opts {
		opt(s)
	}

	if authSvc == nil {
		logger.Warn("no JWT secret configured, publishing over HTTP is disabled")
	}

	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthChecker.Handler())

	blobs := handlers.NewBlobsHandler(s.store, s.logger)
	r.Get("/catalog", blobs.GetCatalog)
	r.Get("/blobs/{handle}", blobs.GetBlob)

	if s.auth != nil {
		authMiddleware := middleware.NewAuthMiddleware(s.auth, s.logger)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(middleware.RequireScope(auth.ScopePublish))
			r.Put("/blobs", blobs.PutBlob)
			r.Put("/catalog", blobs.PutCatalog)
		})
	}

	s.router = r
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Name implements shutdown.Component.
func (s *Server) Name() string {
	return "delivery-server"
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("starting delivery server", "addr", s.httpServer.Addr, "store", s.store.Root(), "version", Version)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("delivery server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down delivery server")
	return s.httpServer.Shutdown(ctx)
}
