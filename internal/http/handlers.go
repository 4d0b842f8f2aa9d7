package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"vfcash/internal/core"
	"vfcash/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().
		Field("status", "ok").
		Field("timestamp", time.Now().UTC().Format(time.RFC3339)).
		Field("uptime", time.Since(s.metrics.startedAt).Round(time.Second).String()).
		Write(w)
}

// handleReady checks the storage backend
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{"storage": "ok"}
	status, code := "ready", http.StatusOK
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness probe failed", log.FieldError, err.Error())
			checks["storage"] = "failed"
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}

	resp := NewJSONResponse().
		Status(code).
		Field("status", status).
		Field("checks", checks).
		Field("timestamp", time.Now().UTC().Format(time.RFC3339))
	if code != http.StatusOK {
		resp.Fail("Service not ready")
	}
	resp.Write(w)
}

// handleMetrics writes counters in the Prometheus text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	usageCacheEntries := 0
	if s.usage != nil {
		usageCacheEntries = s.usage.Cache().Size()
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	writeMetric(w, "http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	fmt.Fprintf(w, "# HELP http_responses_total HTTP responses by status class\n")
	fmt.Fprintf(w, "# TYPE http_responses_total counter\n")
	fmt.Fprintf(w, "http_responses_total{class=\"2xx\"} %d\n", traceMetrics.Status2xx)
	fmt.Fprintf(w, "http_responses_total{class=\"4xx\"} %d\n", traceMetrics.Status4xx)
	fmt.Fprintf(w, "http_responses_total{class=\"5xx\"} %d\n\n", traceMetrics.Status5xx)
	writeMetric(w, "http_request_duration_microseconds_sum", "counter", "Total time spent serving requests", traceMetrics.TotalLatencyUs)

	writeMetric(w, "vfcash_transactions_stored_total", "counter", "Transactions accepted for storage", s.metrics.transactionsStored.Load())
	writeMetric(w, "vfcash_sms_parsed_total", "counter", "SMS messages converted into transactions", s.metrics.smsParsed.Load())
	writeMetric(w, "vfcash_validation_failures_total", "counter", "Requests rejected by validation", s.metrics.validationFailures.Load())
	writeMetric(w, "vfcash_internal_errors_total", "counter", "Requests failed by internal errors", s.metrics.internalErrors.Load())
	writeMetric(w, "vfcash_usage_cache_entries", "gauge", "Cached usage summaries", int64(usageCacheEntries))

	writeMetric(w, "rate_limit_hits_total", "counter", "Requests rejected by the rate limiter", rateLimitMetrics.TotalHits)
	writeMetric(w, "rate_limit_active_clients", "gauge", "Clients tracked by the rate limiter", rateLimitMetrics.ClientCount)
	writeMetric(w, "security_suspicious_requests_total", "counter", "Requests matching probe patterns", securityMetrics.SuspiciousRequests)

	writeMetric(w, "uptime_seconds", "gauge", "Seconds since the server started", int64(time.Since(s.metrics.startedAt).Seconds()))
}

func writeMetric(w http.ResponseWriter, name, kind, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n\n", name, value)
}

// writeFailure maps a service error to a response. Validation errors become
// 400 with their message; everything else is logged and reported as a 500
// with the generic message.
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error, generic, operation string) {
	ctx := r.Context()
	logger := log.FromContext(ctx)

	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		s.metrics.validationFailures.Add(1)
		logger.WarnContext(ctx, "Validation failed",
			log.FieldOperation, operation,
			log.FieldError, verr.Message,
			log.FieldErrorType, log.ErrorTypeValidation)
		BadRequestError(verr.Message).Write(w)
	case errors.Is(err, core.ErrInvalidBody):
		s.metrics.validationFailures.Add(1)
		logger.WarnContext(ctx, "Invalid request body", log.FieldOperation, operation)
		BadRequestError("Invalid request body").Write(w)
	default:
		s.metrics.internalErrors.Add(1)
		s.errLogger.LogError(ctx, generic, err, log.ComponentHTTP, operation, log.NewFields().
			WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Get("User-Agent")))
		InternalServerError(generic).Write(w)
	}
}
