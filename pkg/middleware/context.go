// Package middleware provides the HTTP adapters that sit in front of the
// API: request identity, logging, per-org rate limiting, and
// fire-and-forget usage tracking.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/backoffice/pkg/analytics"
	"github.com/crestline/backoffice/pkg/async"
	"github.com/crestline/backoffice/pkg/contextkeys"
	"github.com/crestline/backoffice/pkg/httputil"
	"github.com/crestline/backoffice/pkg/observability"
	"github.com/crestline/backoffice/pkg/usage"
)

// RequestContext stamps each request with a request ID, the caller's IP
// and user agent, the authenticated user ID from the X-User-ID header set
// by the edge proxy, the organization ID from the matched route, and the
// base logger. Downstream layers read these from context only. The org ID
// here scopes metering and rate limiting; the access guard still derives
// and verifies the tenant itself before any handler runs.
func RequestContext(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = contextkeys.WithRequestID(ctx, requestID)
			ctx = contextkeys.WithClientIP(ctx, httputil.ClientIP(r))
			ctx = contextkeys.WithUserAgent(ctx, httputil.UserAgent(r))
			if userID := r.Header.Get("X-User-ID"); userID != "" {
				ctx = contextkeys.WithUserID(ctx, userID)
			}
			if orgID := httputil.GetPathVars(r)["orgId"]; orgID != "" {
				ctx = contextkeys.WithOrgID(ctx, orgID)
			}

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AnalyticsCapture installs the product-analytics sink into each request
// context. The audit layer emits best-effort events through it; without
// this middleware no analytics are captured.
func AnalyticsCapture(capturer analytics.Capturer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := analytics.WithCapturer(r.Context(), capturer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogging logs each request on completion and records HTTP metrics.
func RequestLogging(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			duration := time.Since(start)
			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(recorder.status)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
			}

			observability.FromContext(r.Context()).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      recorder.status,
				"duration_ms": duration.Milliseconds(),
			}).Info("request completed")
		})
	}
}

// UsageTracking records one api_call usage event per request. Writes go
// through the bounded worker pool so the connection never waits on
// metering and a slow store cannot fan out unbounded goroutines. When the
// queue is full the sample is dropped; metering is lossy by contract.
func UsageTracking(tracker *usage.Tracker, pool *async.WorkerPool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)

			orgID := contextkeys.GetOrgID(r.Context())
			if orgID == "" {
				return
			}
			userID := contextkeys.GetUserID(r.Context())
			path := r.URL.Path

			pool.Submit(func(taskCtx context.Context) error {
				tracker.TrackAPICall(taskCtx, orgID, userID, path)
				return nil
			})
		})
	}
}
