package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/imaxisXD/ndle-worker/internal/background"
	"github.com/imaxisXD/ndle-worker/internal/config"
	"github.com/imaxisXD/ndle-worker/internal/httpx"
	"github.com/imaxisXD/ndle-worker/internal/resolver"
)

// staticPaths are answered without touching the cache or store. Browsers
// request these on every visit and none of them are redirect slugs.
var staticPaths = []string{
	"/favicon.ico",
	"/robots.txt",
	"/sitemap.xml",
	"/apple-touch-icon.png",
	"/apple-touch-icon-precomposed.png",
}

// Server represents the HTTP server with all dependencies.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	handler *resolver.Handler
	runner  *background.Runner
	server  *http.Server
}

// New creates a new Server instance.
func New(cfg *config.Config, logger *slog.Logger, handler *resolver.Handler, runner *background.Runner) *Server {
	return &Server{
		config:  cfg,
		logger:  logger,
		handler: handler,
		runner:  runner,
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	mux := s.setupRoutes()
	handler := s.applyMiddleware(mux)
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port),
		Handler:      handler,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	// Listen for errors from the server
	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		s.logger.Info("starting http server",
			"addr", s.server.Addr,
			"env", s.config.App.Environment,
		)
		serverErrors <- s.server.ListenAndServe()
	}()

	// Listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		s.logger.Info("received shutdown signal", "signal", sig.String())

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		// Attempt graceful shutdown
		if err := s.server.Shutdown(ctx); err != nil {
			// Force close if graceful shutdown fails
			if closeErr := s.server.Close(); closeErr != nil {
				return fmt.Errorf("failed to close server: %w", closeErr)
			}
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Let in-flight cache writes and telemetry deliveries finish.
		if err := s.runner.Wait(ctx); err != nil {
			s.logger.Warn("background tasks did not drain before deadline", "error", err)
		}

		s.logger.Info("server stopped gracefully")
		return nil
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check and metrics endpoints
	mux.HandleFunc("GET /x/health", s.healthCheckHandler)
	mux.Handle("GET /x/metrics", promhttp.Handler())

	// Static file requests never resolve to slugs
	for _, path := range staticPaths {
		mux.HandleFunc(path, s.staticHandler)
	}
	mux.HandleFunc("/.well-known/", s.staticHandler)

	// No method on the pattern: the resolver answers 405 itself so it
	// can attach the Allow header.
	mux.HandleFunc("/{slug}", s.handler.Redirect)

	mux.HandleFunc("/{$}", s.rootHandler)

	return mux
}

// applyMiddleware wraps the handler with middleware in the correct order.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	return httpx.Chain(
		httpx.Recovery(s.logger), // Outermost: catch panics
		httpx.RequestID,          // Add request ID
		httpx.Logger(s.logger),   // Log requests
		httpx.Metrics(),          // Prometheus metrics
	)(handler)
}

// healthCheckHandler handles health check requests.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"env":    s.config.App.Environment,
	})
}

// staticHandler short-circuits well-known static paths with an empty 204.
func (s *Server) staticHandler(w http.ResponseWriter, r *http.Request) {
	httpx.WriteEmpty(w, http.StatusNoContent)
}

// rootHandler redirects bare requests to the configured base URL.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.config.Server.BaseURL, http.StatusFound)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn("shutdown timeout exceeded, forcing close")
			return s.server.Close()
		}
		return err
	}

	return s.runner.Wait(ctx)
}
