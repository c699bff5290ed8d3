// Package server provides the admin HTTP server of the scheduler: health probes, metrics,
// status and the cycle report stream.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/limiquantix/quantix-sched/internal/config"
	"github.com/limiquantix/quantix-sched/internal/domain"
	"github.com/limiquantix/quantix-sched/internal/metrics"
	"github.com/limiquantix/quantix-sched/internal/repository/etcd"
	"github.com/limiquantix/quantix-sched/internal/repository/postgres"
	"github.com/limiquantix/quantix-sched/internal/repository/redis"
	"github.com/limiquantix/quantix-sched/internal/server/middleware"
)

// Version is reported by /api/v1/info. It is set by cmd/scheduler.
var Version = "dev"

// Scheduler is the view of the scheduler the server reports on.
type Scheduler interface {
	IsLeader() bool
	IsRunning() bool
	LastReport() *domain.CycleReport
}

// Pinger is implemented by the resource store client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PlacementLister lists journaled placements.
type PlacementLister interface {
	Recent(ctx context.Context, limit int) ([]postgres.JournalEntry, error)
}

type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

// Server represents the admin HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler

	scheduler Scheduler
	cycles    *CyclesHandler
	checks    []healthCheck

	// Infrastructure
	cache   *redis.Cache
	etcd    *etcd.Client
	journal PlacementLister
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithStore adds the resource store session to the readiness checks.
func WithStore(store Pinger) ServerOption {
	return func(s *Server) {
		s.checks = append(s.checks, healthCheck{name: "store", check: store.Ping})
	}
}

// WithPostgreSQL adds the journal database to the readiness checks.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.checks = append(s.checks, healthCheck{name: "postgres", check: db.Health})
	}
}

// WithJournal serves journaled placements on /api/v1/placements.
func WithJournal(journal PlacementLister) ServerOption {
	return func(s *Server) {
		s.journal = journal
	}
}

// WithRedis adds Redis to the readiness checks and uses its cached report when this
// instance has not run a cycle yet.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
		s.checks = append(s.checks, healthCheck{name: "redis", check: cache.Health})
	}
}

// WithEtcd adds etcd to the readiness checks and reports the elected leader.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
		s.checks = append(s.checks, healthCheck{name: "etcd", check: client.Health})
	}
}

// New creates a new server instance.
func New(cfg *config.Config, sched Scheduler, cycles *CyclesHandler, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger.With(zap.String("component", "server")),
		mux:       http.NewServeMux(),
		scheduler: sched,
		cycles:    cycles,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	s.handler = s.setupMiddleware(s.mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler returns the server's HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.HandleFunc("/live", s.liveHandler)
	s.mux.Handle("/metrics", metrics.Handler())

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/info", s.infoHandler)
	api.HandleFunc("GET /api/v1/status", s.statusHandler)
	api.HandleFunc("GET /api/v1/placements", s.placementsHandler)
	s.cycles.RegisterRoutes(api)

	var apiHandler http.Handler = api
	if s.config.Auth.JWTSecret != "" {
		apiHandler = middleware.NewAuth(middleware.NewJWTManager(s.config.Auth), s.logger).Handler(api)
		s.logger.Info("Admin API authentication enabled")
	} else {
		s.logger.Warn("Admin API authentication disabled, auth.jwt_secret is empty")
	}
	s.mux.Handle("/api/v1/", apiHandler)
}

// setupMiddleware configures middleware chain.
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

		// Skip logging for probes and scrapes
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
			zap.String("user_agent", r.UserAgent()),
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

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "quantix-sched"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := true
	details := map[string]string{}
	for _, c := range s.checks {
		if err := c.check(ctx); err != nil {
			ready = false
			details[c.name] = "unhealthy"
			s.logger.Debug("Readiness check failed", zap.String("check", c.name), zap.Error(err))
		} else {
			details[c.name] = "healthy"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{"ready": ready, "components": details})
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.Scheduler
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":        "quantix-sched",
		"version":     Version,
		"api_version": "v1",
		"description": "Periodic VM placement scheduler",
		"scheduler": map[string]any{
			"interval":      cfg.Interval.String(),
			"max_vms":       cfg.MaxVMs,
			"max_dispatch":  cfg.MaxDispatch,
			"max_host":      cfg.MaxHost,
			"authorization": cfg.Authorization,
		},
		"store": map[string]string{
			"endpoint": s.config.Store.Endpoint,
			"protocol": s.config.Store.Protocol,
		},
		"infrastructure": map[string]bool{
			"postgres": s.journal != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	})
}

// statusResponse is the body of /api/v1/status.
type statusResponse struct {
	Leader    bool                `json:"leader"`
	LeaderID  string              `json:"leader_id,omitempty"`
	Running   bool                `json:"running"`
	LastCycle *domain.CycleReport `json:"last_cycle,omitempty"`
	// Source tells where LastCycle came from: local, etcd or redis.
	Source string `json:"source,omitempty"`
}

// statusHandler returns leadership and the last cycle report. A follower has no local
// report and falls back to the one shared by the leader.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := statusResponse{
		Leader:  s.scheduler.IsLeader(),
		Running: s.scheduler.IsRunning(),
	}

	if s.etcd != nil {
		if id, err := s.etcd.GetLeader(ctx); err == nil {
			resp.LeaderID = id
		} else if !errors.Is(err, etcd.ErrKeyNotFound) {
			s.logger.Warn("Failed to read elected leader", zap.Error(err))
		}
	}

	if report := s.scheduler.LastReport(); report != nil {
		resp.LastCycle, resp.Source = report, "local"
	} else if s.etcd != nil {
		if report, err := s.etcd.LastReport(ctx); err == nil {
			resp.LastCycle, resp.Source = report, "etcd"
		}
	}
	if resp.LastCycle == nil && s.cache != nil {
		if report, err := s.cache.LastReport(ctx); err == nil {
			resp.LastCycle, resp.Source = report, "redis"
		} else if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("Failed to read cached cycle report", zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// placementsHandler handles GET /api/v1/placements?limit=N
func (s *Server) placementsHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal_disabled", "placement journal is not enabled")
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list placements", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal", "failed to list placements")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"placements": entries})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

// writeError writes an error JSON response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Address())
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("Starting admin server", zap.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down admin server...")

	// Hijacked websocket connections are not closed by Shutdown.
	s.cycles.Close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	s.logger.Info("Admin server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}
