package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/vigil/internal/metrics"
	"github.com/lalithlochan/vigil/internal/redis"
)

// WriteLimit admits a schedule write only if the client, identified by
// keyFunc, has room left in the limiter window for scope. A nil limiter or a
// limiter error lets the request through.
func WriteLimit(limiter *redis.WriteLimiter, logger *zap.Logger, keyFunc func(*http.Request) string, scope func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key, sc := keyFunc(r), scope(r)
			if key == "" || sc == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := limiter.Admit(r.Context(), key, sc)
			if err != nil {
				logger.Warn("schedule write limit check failed", zap.Error(err), zap.String("scope", sc))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				metrics.RecordRateLimitRejection(sc)
				retryAfter := int(math.Ceil(d.RetryAfter.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeProblem(w, ErrorResponse{
					Type:   "rate_limit_exceeded",
					Title:  "Too Many Requests",
					Status: http.StatusTooManyRequests,
					Detail: fmt.Sprintf("Too many %s changes. Retry in %d seconds.", sc, retryAfter),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// scope returns a fixed write scope.
func scope(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

// typeParamScope scopes a write to the {type} URL parameter.
func typeParamScope(r *http.Request) string {
	return chi.URLParam(r, "type")
}

// ClientKeyFunc keys on the X-Client-ID header, falling back to the client IP.
func ClientKeyFunc(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return "client:" + id
	}
	return IPKeyFunc(r)
}

// IPKeyFunc extracts the client IP for rate limiting.
func IPKeyFunc(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return "ip:" + ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return "ip:" + ip
	}
	return "ip:" + r.RemoteAddr
}

// RequestLogger logs one line per completed request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
