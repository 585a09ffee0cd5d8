package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/inkwellbooks/bookstore-backend/api/responses"
	pkgerrors "github.com/inkwellbooks/bookstore-backend/pkg/errors"
	"github.com/inkwellbooks/bookstore-backend/pkg/logger"
)

// RateLimiter applies a fixed-window counter per scope key.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimit caps requests per authenticated user within a fixed window. The
// counter key is scope-qualified so different routes get independent budgets.
// Limiter outages fail open; a redis hiccup must not block checkout.
func RateLimit(limiter RateLimiter, scope string, limit int64, window time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := scope
			if userID := UserIDFromContext(r.Context()); userID != "" {
				key = scope + ":" + userID
			}

			allowed, count, err := limiter.FixedWindowAllow(r.Context(), key, limit, window)
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"scope": scope}), "rate limiter unavailable, allowing request")
				}
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				if logg != nil {
					logg.Warn(logg.WithFields(r.Context(), map[string]any{"scope": scope, "count": count}), "rate limit exceeded")
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, slow down"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
