package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/adfharrison1/go-odm/pkg/api"
	"github.com/adfharrison1/go-odm/pkg/logger"
	"github.com/adfharrison1/go-odm/pkg/metrics"
	"github.com/adfharrison1/go-odm/pkg/odm"
)

// Option configures a Server
type Option func(*Server)

// WithRateLimit allows requests per window for each client address.
// A non-positive requests value disables limiting.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(s *Server) {
		s.rateReqs = requests
		s.rateWindow = window
	}
}

// WithTracing wraps the router in otelhttp instrumentation
func WithTracing(enabled bool) Option {
	return func(s *Server) {
		s.tracing = enabled
	}
}

// Server holds references to the ODM client, router, etc.
type Server struct {
	router   *mux.Router
	client   *odm.Client
	log      *slog.Logger
	registry *prometheus.Registry

	rateReqs   int
	rateWindow time.Duration
	limiters   *xsync.MapOf[string, *rate.Limiter]
	tracing    bool
}

// NewServer creates a new instance of Server.
func NewServer(client *odm.Client, log *slog.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		router:   mux.NewRouter(),
		client:   client,
		log:      log,
		registry: prometheus.NewRegistry(),
		limiters: xsync.NewMapOf[string, *rate.Limiter](),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := metrics.Register(s.registry); err != nil {
		return nil, err
	}
	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	s.routes()

	s.router.Use(s.requestLoggerMiddleware)
	if s.rateReqs > 0 {
		s.router.Use(s.rateLimitMiddleware)
	}

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Warn("no route found", "method", r.Method, "path", r.URL.Path)
		api.WriteJSONError(w, http.StatusNotFound, "no route for "+r.Method+" "+r.URL.Path)
	})

	return s, nil
}

// routes defines all REST endpoints.
func (s *Server) routes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	api.NewHandler(s.client, s.log).RegisterRoutes(s.router)
}

// Router exposes the http handler, instrumented when tracing is on.
func (s *Server) Router() http.Handler {
	if s.tracing {
		return otelhttp.NewHandler(s.router, "go-odm")
	}
	return s.router
}

// statusRecorder keeps the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs the method, URL path, status and duration for each request.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	every := s.rateWindow / time.Duration(s.rateReqs)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter, _ := s.limiters.LoadOrCompute(clientAddr(r), func() *rate.Limiter {
			return rate.NewLimiter(rate.Every(every), s.rateReqs)
		})
		if !limiter.Allow() {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.rateReqs))
			w.Header().Set("Retry-After", strconv.Itoa(int(every.Seconds())+1))
			s.log.Warn("rate limit exceeded", "client", clientAddr(r), "path", r.URL.Path)
			api.WriteJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
