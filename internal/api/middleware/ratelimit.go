package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/peoplehub/internal/api/response"
	"github.com/kiranshivaraju/peoplehub/internal/cache"
	"github.com/kiranshivaraju/peoplehub/internal/logger"
	"github.com/kiranshivaraju/peoplehub/internal/tenancy"
	"go.uber.org/zap"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = 60 * time.Second
)

// RateLimit provides fixed-window rate limiting per tenant and API key.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	log            *zap.Logger
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c cache.Cache, requestsPerMin int, log *zap.Logger) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, log: log}
}

// Limit counts requests under the resolved tenant and the key prefix set by
// the auth middleware. Requests without a key prefix pass through.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := uuid.Nil
		if t, ok := tenancy.TenantFrom(r.Context()); ok {
			tenantID = t.ID
		} else if p, ok := tenancy.PrincipalFrom(r.Context()); ok {
			tenantID = p.TenantID
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(tenantID, prefix), rateWindow)
		if err != nil {
			// Fail open: a cache outage must not take the API down.
			logger.FromContext(r.Context(), rl.log).Warn("rate limit counter unavailable", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(rateWindow).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
