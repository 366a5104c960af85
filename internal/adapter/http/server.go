package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/tidal-current-service/internal/domain"
	"github.com/couchcryptid/tidal-current-service/internal/observability"
	"github.com/couchcryptid/tidal-current-service/internal/pipeline"
)

// QueryAPI answers dataset queries. *pipeline.QueryService implements it.
type QueryAPI interface {
	Vectors(ctx context.Context, q pipeline.Query) (domain.VectorField, error)
	MinMax(ctx context.Context, q pipeline.Query) (domain.MagnitudeRange, error)
	FeatureInfo(ctx context.Context, q pipeline.Query) error
	Describe(name string) (pipeline.Description, error)
}

// Options tune the query routes.
type Options struct {
	// RateLimit is the sustained query rate per second; 0 disables limiting.
	RateLimit float64
	RateBurst int
	Metrics   *observability.Metrics
}

// Server exposes health, readiness, metrics and dataset query endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	queries    QueryAPI
	limiter    *rate.Limiter
	metrics    *observability.Metrics
}

// NewServer creates an HTTP server with /healthz, /readyz and /metrics
// routes, plus the /datasets routes when queries is not nil.
func NewServer(addr string, ready sharedobs.ReadinessChecker, queries QueryAPI, opts Options, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:  logger,
		queries: queries,
		metrics: opts.Metrics,
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	if queries != nil {
		mux.Handle("GET /datasets/{name}", s.limit(s.handleDescribe))
		mux.Handle("GET /datasets/{name}/vectors", s.limit(s.handleVectors))
		mux.Handle("GET /datasets/{name}/minmax", s.limit(s.handleMinMax))
		mux.Handle("GET /datasets/{name}/featureinfo", s.limit(s.handleFeatureInfo))
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// limit applies the query rate limiter.
func (s *Server) limit(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			if s.metrics != nil {
				s.metrics.QueryRateLimited.Inc()
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	})
}
