// Package server provides the admin HTTP server of the migration daemon.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/vmmigrate/internal/config"
	"github.com/limiquantix/vmmigrate/internal/drs"
	"github.com/limiquantix/vmmigrate/internal/migration"
	"github.com/limiquantix/vmmigrate/internal/repository/etcd"
	"github.com/limiquantix/vmmigrate/internal/repository/postgres"
	"github.com/limiquantix/vmmigrate/internal/repository/redis"
)

// Engine is the part of the DRS engine the server exposes.
type Engine interface {
	Evaluate(ctx context.Context, policy migration.PolicyID) (*drs.Report, error)
	Run(ctx context.Context, policy migration.PolicyID) (*drs.Report, error)
	LastReport() *drs.Report
}

// Server represents the admin HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	engine     Engine
	gatherer   prometheus.Gatherer

	// Infrastructure
	db     *postgres.DB
	cache  *redis.Cache
	etcd   *etcd.Client
	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL reports PostgreSQL health and closes it on shutdown.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis reports Redis health and serves the cached last report.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd reports etcd health and resigns leadership on shutdown.
func WithEtcd(client *etcd.Client, leader *etcd.Leader) ServerOption {
	return func(s *Server) {
		s.etcd = client
		s.leader = leader
	}
}

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a new server instance.
func New(cfg *config.Config, engine Engine, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config:   cfg,
		logger:   logger,
		mux:      mux,
		engine:   engine,
		gatherer: prometheus.DefaultGatherer,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.mux.HandleFunc("POST /api/v1/migrations/evaluate", s.evaluateHandler)
	s.mux.HandleFunc("POST /api/v1/migrations/run", s.runHandler)
	s.mux.HandleFunc("GET /api/v1/migrations/status", s.statusHandler)

	s.logger.Info("All routes registered")
}

func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks and scrapes
		switch r.URL.Path {
		case "/health", "/healthz", "/ready", "/live", "/metrics":
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "vmmigrate"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "components": details})
}

func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func (s *Server) evaluateHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Evaluate(r.Context(), s.policyOf(r))
	s.writeReport(w, report, err)
}

func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Run(r.Context(), s.policyOf(r))
	s.writeReport(w, report, err)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if report := s.engine.LastReport(); report != nil {
		writeJSON(w, http.StatusOK, report)
		return
	}

	if s.cache != nil {
		var cached drs.Report
		err := s.cache.LastReport(r.Context(), &cached)
		if err == nil {
			writeJSON(w, http.StatusOK, &cached)
			return
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("Failed to read cached report", zap.Error(err))
		}
	}

	writeError(w, http.StatusNotFound, "no migration pass has run yet")
}

func (s *Server) policyOf(r *http.Request) migration.PolicyID {
	if policy := r.URL.Query().Get("policy"); policy != "" {
		return migration.PolicyID(policy)
	}
	return migration.PolicyID(s.config.DRS.Policy)
}

func (s *Server) writeReport(w http.ResponseWriter, report *drs.Report, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, migration.ErrUnknownPolicy):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, migration.ErrNotLicensed):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("Migration pass failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server and closes the infrastructure connections.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}
