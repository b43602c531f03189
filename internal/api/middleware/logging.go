package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/metrics"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request and records the request metrics. It also
// installs a request-scoped logger that handlers pick up with
// logger.FromContext.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			reqLog := log
			if id := chimw.GetReqID(r.Context()); id != "" {
				reqLog = log.With(zap.String("request_id", id))
			}
			ctx, info := withRequestInfo(logger.WithContext(r.Context(), reqLog))

			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			route := routePattern(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("duration_ms", elapsed.Milliseconds()),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if info.tenantID != "" {
				fields = append(fields, zap.String("tenant_id", info.tenantID), zap.String("tenant_source", info.source))
			}
			reqLog.Info("request", fields...)
		})
	}
}

// routePattern returns the matched chi pattern, never the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
