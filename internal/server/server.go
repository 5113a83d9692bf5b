// Package server provides the driver's status HTTP server.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/solcverify/internal/auth"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/driver"
	"github.com/pendergraft/solcverify/internal/observability/metrics"
	verificationTransport "github.com/pendergraft/solcverify/internal/verification/transport"
)

// StatusSource reports the live driver state.
type StatusSource interface {
	Status() driver.Status
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components the server reports on. Nil fields disable the
// routes that need them.
type Deps struct {
	Driver     StatusSource
	Store      Pinger
	Recompiler verificationTransport.Service
}

// Server is the HTTP server
type Server struct {
	cfg    config.StatusConfig
	deps   Deps
	logger *slog.Logger
	router *chi.Mux
}

// New creates a new server
func New(cfg config.StatusConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(NewLoggingMiddleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)

	if s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", metrics.Handler())
	}

	if s.deps.Driver != nil {
		s.router.Get("/status", s.handleStatus)
	}

	if s.deps.Recompiler != nil {
		s.setupRecompileRoutes()
	}
}

func (s *Server) setupRecompileRoutes() {
	keys := auth.NewKeySet(s.cfg.APIKeys...)
	if keys.Len() == 0 {
		s.logger.Warn("no status API keys configured, not serving /recompile")
		return
	}
	verificationHandler := verificationTransport.NewHandler(s.deps.Recompiler, s.logger)
	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(keys, writeError))
		r.Use(MaxBodySize(verificationTransport.MaxRequestBytes))
		verificationHandler.RegisterRoutes(r)
	})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the candidate queue is reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "candidate queue unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Driver.Status())
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
