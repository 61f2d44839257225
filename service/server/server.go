package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/hip/service/config"
	"github.com/brojonat/hip/service/db"
	"github.com/brojonat/hip/service/metrics"
	"github.com/brojonat/hip/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunStore is the read side of the run history the API serves.
type RunStore interface {
	GetRun(ctx context.Context, id int64) (*db.Run, error)
	LatestRun(ctx context.Context, program string) (*db.Run, error)
	ListRuns(ctx context.Context, params db.ListRunsParams) ([]*db.Run, error)
	CountRuns(ctx context.Context, program, status string) (int64, error)
}

// Server represents the HTTP server for the smoke check history.
type Server struct {
	addr      string
	cfg       *config.Config
	store     RunStore
	scheduler temporal.Scheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is optional - if nil, schedule endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, cfg *config.Config, store RunStore, scheduler temporal.Scheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// Handler builds the routed handler, wrapped with CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Run history routes
	s.route(mux, "GET /api/v1/runs", "list_runs", handleListRuns(s.store, s.logger))
	s.route(mux, "GET /api/v1/runs/latest", "latest_run", handleLatestRun(s.store, s.logger))
	s.route(mux, "GET /api/v1/runs/stats", "run_stats", handleRunStats(s.store, s.logger))
	s.route(mux, "GET /api/v1/runs/{id}", "get_run", handleGetRun(s.store, s.logger))

	// Schedule routes
	if s.scheduler != nil {
		minInterval := defaultMinInterval
		if s.cfg != nil && s.cfg.MinSmokeInterval > 0 {
			minInterval = s.cfg.MinSmokeInterval
		}
		s.route(mux, "POST /api/v1/schedules", "create_schedule", handleCreateSchedule(s.scheduler, minInterval, s.logger))
		s.route(mux, "DELETE /api/v1/schedules/{program}", "delete_schedule", handleDeleteSchedule(s.scheduler, s.logger))
	} else {
		s.logger.Warn("scheduler not configured, schedule endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.Handler) {
	if s.metrics != nil {
		h = metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}
	mux.Handle(pattern, h)
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
