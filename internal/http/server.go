package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"vfcash/internal/log"
	"vfcash/internal/middleware/ratelimit"
	"vfcash/internal/middleware/security"
	"vfcash/internal/middleware/trace"
	"vfcash/internal/services"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	Addr               string
	MaxBodyBytes       int64
	AllowedOrigins     []string
	RateLimitPerMinute int
	TrustedProxies     []string
}

// Deps are the services the handlers call.
type Deps struct {
	Ingestion *services.IngestionService
	Limits    *services.LimitsService
	Usage     *services.UsageService
	// Probe reports backend readiness; nil means always ready.
	Probe  func(context.Context) error
	Logger *log.Logger
}

type appMetrics struct {
	startedAt          time.Time
	transactionsStored atomic.Int64
	smsParsed          atomic.Int64
	validationFailures atomic.Int64
	internalErrors     atomic.Int64
}

type Server struct {
	http.Server

	ingestion *services.IngestionService
	limits    *services.LimitsService
	usage     *services.UsageService
	probe     func(context.Context) error

	logger       *log.Logger
	errLogger    *log.StructuredLogger
	maxBodyBytes int64

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	metrics          appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(opts Options, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	httpLogger := logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ingestion:        deps.Ingestion,
		limits:           deps.Limits,
		usage:            deps.Usage,
		probe:            deps.Probe,
		logger:           httpLogger,
		errLogger:        log.NewStructuredLogger(httpLogger),
		maxBodyBytes:     opts.MaxBodyBytes,
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: security.NewDetector(logger),
	}
	s.metrics.startedAt = time.Now()
	for _, cidr := range opts.TrustedProxies {
		if err := s.securityDetector.AddTrustedProxy(cidr); err != nil {
			httpLogger.Warn("Ignoring trusted proxy", log.FieldError, err.Error())
		}
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ClientIP, logger)

	s.Handler = s.middleware(s.routes(), opts)
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	r.HandleFunc("/transactions", s.handleIngestTransactions).Methods(http.MethodPost)
	r.HandleFunc("/transactions", s.handleClearTransactions).Methods(http.MethodDelete)
	r.HandleFunc("/transactions/bulk", s.handleBulkTransactions).Methods(http.MethodPost)
	r.HandleFunc("/transactions/sms", s.handleSMSTransaction).Methods(http.MethodPost)

	r.HandleFunc("/limits", s.handleGetLimits).Methods(http.MethodGet)
	r.HandleFunc("/limits", s.handleUpdateLimits).Methods(http.MethodPost, http.MethodPut)
	r.HandleFunc("/limits/usage", s.handleUsage).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MethodNotAllowedError().Write(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Not found").Write(w)
	})
	return r
}

// middleware wraps the router, outermost first: tracing, request logger,
// probe detection, security headers, CORS, rate limiting.
func (s *Server) middleware(h http.Handler, opts Options) http.Handler {
	mutating := []string{http.MethodPost, http.MethodPut, http.MethodDelete}
	h = s.rateLimiter.Middleware(s.securityDetector.ClientIP, mutating, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		TooManyRequestsError().Write(w)
	})(h)
	if len(opts.AllowedOrigins) > 0 {
		h = security.CORS(opts.AllowedOrigins)(h)
	}
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.securityDetector.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = log.Middleware(s.logger)(h)
	return s.traceMiddleware.Middleware(h)
}

// Shutdown stops background goroutines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
