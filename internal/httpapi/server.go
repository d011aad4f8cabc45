// Package httpapi implements the control-plane HTTP surface: the Lifecycle
// Manager's start/stop/restart/status/list operations and the Health &
// Failover Supervisor's read-only stats/metrics/probe operations, plus a
// Prometheus /metrics endpoint and a liveness /healthz. Grounded on the
// teacher's internal/http/server.go (chi + huma) and channel_manager.py's /
// stats_api.py's Flask routes for the operation surface itself.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rivermedia/chancore/internal/httpmw"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server is the control plane's HTTP server.
type Server struct {
	config     ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// Registerer is implemented by handler groups that attach huma operations
// to an API instance.
type Registerer interface {
	Register(api huma.API)
}

// NewServer constructs the HTTP server: chi router, huma API mounted at the
// root, a Prometheus /metrics endpoint, and a plain /healthz liveness
// check that bypasses huma so it stays dependency-free for orchestrators.
func NewServer(config ServerConfig, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(httpmw.RequestID)
	router.Use(requestLogging(logger))
	router.Use(recoverer(logger))

	router.Get("/healthz", healthzHandler)
	router.Handle("/metrics", promhttp.Handler())

	humaConfig := huma.DefaultConfig("chancore control plane API", version)
	humaConfig.Info.Description = "Channel lifecycle, health, and stats API for the live streaming control plane"

	api := humachi.New(router, humaConfig)

	return &Server{
		config: config,
		router: router,
		api:    api,
		logger: logger,
	}
}

// API returns the huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for registering additional plain routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Mount registers every given handler group's operations on the server.
func (s *Server) Mount(groups ...Registerer) {
	for _, g := range groups {
		g.Register(s.api)
	}
}

// ListenAndServe starts the server and blocks until ctx is canceled, at
// which point it shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", slog.String("address", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("httpapi: listen: %w", err)
			return
		}
		errChan <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: shutdown: %w", err)
		}
		s.logger.Info("HTTP server stopped")
		return nil
	case err := <-errChan:
		return err
	}
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", httpmw.GetRequestID(r.Context())),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered in HTTP handler", slog.Any("panic", rec), slog.String("path", r.URL.Path))
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
