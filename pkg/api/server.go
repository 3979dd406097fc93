package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/contractflow/contractflow/pkg/stores"
	"github.com/contractflow/contractflow/pkg/telemetry"
	"github.com/contractflow/contractflow/pkg/workflow"
)

// HeaderActor names the acting user. Authentication happens upstream.
const HeaderActor = "X-Actor-ID"

// HealthChecker reports whether a dependency is usable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatusCounter reports how many contracts sit in each status.
type StatusCounter interface {
	CountContractsByStatus(ctx context.Context) ([]stores.StatusCount, error)
}

// Config holds HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// MetricsPath is where metrics are served when metrics are enabled.
	MetricsPath string
}

// Server exposes the workflow engine over HTTP.
type Server struct {
	engine  *workflow.Engine
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	health  HealthChecker
	counter StatusCounter
	router  chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetrics mounts the metrics endpoint.
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithTracer opens a span per request.
func WithTracer(t *telemetry.Tracer) Option { return func(s *Server) { s.tracer = t } }

// WithHealthCheck makes /healthz probe h.
func WithHealthCheck(h HealthChecker) Option { return func(s *Server) { s.health = h } }

// WithStatusCounter refreshes the per-status contract gauge on every scrape.
func WithStatusCounter(c StatusCounter) Option { return func(s *Server) { s.counter = c } }

// NewServer builds the router for engine.
func NewServer(engine *workflow.Engine, cfg Config, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		engine: engine,
		cfg:    cfg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	if s.tracer != nil {
		r.Use(tracing(s.tracer))
	}
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Get(s.cfg.MetricsPath, s.handleMetrics)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Route("/contracts", func(c chi.Router) {
			c.Post("/", s.handleCreate)
			c.Get("/", s.handleList)
			c.Route("/{contract_id}", func(one chi.Router) {
				one.Get("/", s.handleGet)
				one.Get("/audit", s.handleAudit)
				one.Get("/actions", s.handleActions)
				one.Post("/submit", s.handleSubmit)
				one.Post("/send", s.handleSend)
				one.Post("/signed", s.handleUploadSigned)
				one.Post("/cancel", s.handleCancel)
			})
		})
		api.Route("/tracks/{track_id}", func(t chi.Router) {
			t.Post("/start-review", s.handleStartReview)
			t.Post("/approve", s.handleDecision(s.engine.Approve))
			t.Post("/reject", s.handleDecision(s.engine.Reject))
			t.Post("/request-revision", s.handleDecision(s.engine.RequestRevision))
			t.Post("/escalate", s.handleEscalate)
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.counter != nil {
		if err := RefreshContractGauge(r.Context(), s.counter, s.metrics); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to refresh contract gauge")
		}
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// RefreshContractGauge sets the per-status contract gauge from c. Statuses
// with no contracts are reset to zero.
func RefreshContractGauge(ctx context.Context, c StatusCounter, m *telemetry.Metrics) error {
	counts, err := c.CountContractsByStatus(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]float64, len(counts))
	for _, sc := range counts {
		seen[sc.Status] = float64(sc.Count)
	}
	for _, st := range workflow.AllStatuses {
		m.SetContractCount(string(st), seen[string(st)])
	}
	return nil
}
