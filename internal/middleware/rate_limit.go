package middleware

import (
	"net/http"
	"strconv"
	"time"

	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// Counter shares the budget across instances; nil counts in process memory
	Counter httprate.LimitCounter
	// IPConfig decides which forwarded headers are trusted when keying by client IP
	IPConfig *pkghttp.IPConfig
}

// DefaultLoginRateLimit returns the per-IP budget for the public login endpoints
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
	}
}

// RateLimitByIP limits requests per client IP. This is a coarse request budget in
// front of the login guard, not a replacement for its failure thresholds.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	opts := []httprate.Option{
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Minute.Seconds())))
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please slow down.")
		}),
	}
	if config.Counter != nil {
		opts = append(opts, httprate.WithLimitCounter(config.Counter))
	}

	return httprate.Limit(config.RequestsPerMinute, time.Minute, opts...)
}
