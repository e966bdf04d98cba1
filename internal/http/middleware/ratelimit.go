package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/wolfman30/clinic-scheduler/internal/http/respond"
)

// RateLimitByIP allows requests per window for each client IP. A
// non-positive limit disables limiting.
func RateLimitByIP(requests int, window time.Duration) func(http.Handler) http.Handler {
	if requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respond.JSON(w, http.StatusTooManyRequests, map[string]any{
				"status":  "error",
				"message": "too many requests",
			})
		}),
	)
}
