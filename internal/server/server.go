package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cardbox/cardbox/internal/handler"
	"github.com/cardbox/cardbox/internal/openapi"
	"github.com/cardbox/cardbox/internal/server/middleware"
	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// IngestToken is the shared secret the phone-side agent presents
	// on the ingest endpoint.
	IngestToken string

	// CardRateLimit throttles the card-facing endpoints per client IP
	// per minute, slowing down token-space scans.
	CardRateLimit int
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CardRateLimit:   60,
	}
}

// Server is the top-level HTTP server. It owns the Chi router, the
// store, and the domain services.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	authSvc    *service.AuthService
	keys       *service.KeyService
	inbox      *service.InboxService
	gate       *service.AccessGate
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and
// returns it ready to listen. Call ListenAndServe to start accepting
// connections.
func New(cfg Config, st *store.Store, authSvc *service.AuthService, keys *service.KeyService, inbox *service.InboxService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		authSvc: authSvc,
		keys:    keys,
		inbox:   inbox,
		gate:    service.NewAccessGate(keys),
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Card-Key", "X-Ingest-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Key-Remaining-Seconds"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- OpenAPI spec (no auth required) ---
	r.Get("/openapi.json", openapi.Handler())

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		adminHandler := handler.NewAdminHandler(s.store, s.authSvc, s.keys)
		inboxHandler := handler.NewInboxHandler(s.inbox, s.keys)

		// Session endpoints are unauthenticated (login) or
		// self-authenticated (logout).
		r.Post("/admin/session", adminHandler.Login)
		r.Delete("/admin/session", adminHandler.Logout)

		// All other admin endpoints require a bearer token.
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Authenticate(s.authSvc))

			// Card keys
			r.Get("/keys", adminHandler.ListKeys)
			r.Post("/keys", adminHandler.IssueKeys)
			r.Post("/keys/sweep", adminHandler.SweepKeys)

			// Audit trail
			r.Get("/audit", adminHandler.Audit)

			// Accounts
			r.Get("/accounts", adminHandler.ListAccounts)
			r.Post("/accounts", adminHandler.CreateAccount)
			r.Get("/accounts/{owner}", adminHandler.GetAccount)
			r.Put("/accounts/{owner}", adminHandler.UpdateAccount)
			r.Delete("/accounts/{owner}", adminHandler.DeleteAccount)

			// Admin users
			r.Get("/admins", adminHandler.ListAdmins)
			r.Post("/admins", adminHandler.CreateAdmin)
		})

		// Ingest: shared-token auth for the forwarding agent.
		r.Group(func(r chi.Router) {
			r.Use(middleware.IngestAuth(s.cfg.IngestToken))
			r.Post("/ingest", inboxHandler.Ingest)
		})

		// Card-holder endpoints: rate limited, no session.
		r.Route("/card", func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.CardRateLimit))

			r.Post("/validate", inboxHandler.Validate)

			r.Group(func(r chi.Router) {
				r.Use(middleware.CardAuth(s.gate))
				r.Get("/messages", inboxHandler.Messages)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or
// SIGTERM is received. It then performs a graceful shutdown, draining
// in-flight requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("store close", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
