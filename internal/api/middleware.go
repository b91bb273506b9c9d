// ABOUTME: HTTP middleware for the meridian API server
// ABOUTME: Access logging, server identification, CORS, and rate limiting

package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-io/meridian/internal/observability"
	"github.com/meridian-io/meridian/internal/redis"
)

// ExposedHeaders lists response headers readable by cross-origin callers.
var ExposedHeaders = []string{"server", BuildEpochHeader}

// statusRecorder captures the status code and body size written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// AccessLogMiddleware logs one line per request. With anonymize set, client
// addresses are masked to their network prefix before logging. Health probes
// are not logged.
func AccessLogMiddleware(logger *slog.Logger, anonymize bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if r.URL.Path == "/healthz" {
			return
		}

		remote := observability.ClientIP(r.RemoteAddr)
		if anonymize {
			remote = observability.AnonymizeRemoteAddr(r.RemoteAddr)
		}

		logger.Info("request",
			slog.String("remote", remote),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("bytes", rec.bytes),
			slog.String("user_agent", r.Header.Get("User-Agent")),
			slog.Duration("duration", time.Since(start)),
			slog.String("correlation_id", observability.FromContext(r.Context()).String()),
		)
	})
}

// ServerHeaderMiddleware stamps every response with the serving version.
func ServerHeaderMiddleware(version string, next http.Handler) http.Handler {
	value := "meridian/" + version
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", value)
		next.ServeHTTP(w, r)
	})
}

// CORSConfig configures cross-origin resource sharing.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to read responses. A single "*"
	// entry allows any origin.
	AllowedOrigins []string
}

// allows reports whether origin may read responses, and whether the
// wildcard form should be echoed instead of the origin itself.
func (c CORSConfig) allows(origin string) (allowed, wildcard bool) {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true, true
		}
		if strings.EqualFold(o, origin) {
			return true, false
		}
	}
	return false, false
}

// CORSMiddleware answers cross-origin requests for the read-only lookup API.
// Only GET is allowed; the server and build epoch headers are exposed to
// callers. Requests from origins outside the allowed list pass through
// without CORS headers, which browsers treat as a denial.
func CORSMiddleware(cfg CORSConfig, next http.Handler) http.Handler {
	exposed := strings.Join(ExposedHeaders, ", ")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, wildcard := cfg.allows(origin)
		if allowed {
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Expose-Headers", exposed)
		}

		// Preflight requests terminate here.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", http.MethodGet)
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware rejects requests over the per-client budget with 429.
// Health probes are not limited.
func RateLimitMiddleware(limiter *redis.RateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		decision := limiter.Allow(r.Context(), observability.ClientIP(r.RemoteAddr), r.URL.Path)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			if decision.RetryAfter > 0 {
				secs := int((decision.RetryAfter + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
