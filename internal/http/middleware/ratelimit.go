package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/tendant/tourdesk/internal/config"
	"github.com/tendant/tourdesk/internal/httputil"
	"github.com/tendant/tourdesk/pkg/auth"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", auth.ClientIP(r),
					"path", r.URL.Path,
					"method", r.Method,
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// RateLimiters holds the limiters of the credential endpoints.
type RateLimiters struct {
	Login   func(http.Handler) http.Handler
	Refresh func(http.Handler) http.Handler
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) RateLimiters {
	if !cfg.Enabled {
		return RateLimiters{Login: NoRateLimit(), Refresh: NoRateLimit()}
	}
	return RateLimiters{
		Login: RateLimit(RateLimitConfig{
			Requests: cfg.LoginRequests,
			Window:   cfg.LoginWindow,
			Logger:   logger,
		}),
		Refresh: RateLimit(RateLimitConfig{
			Requests: cfg.RefreshRequests,
			Window:   cfg.RefreshWindow,
			Logger:   logger,
		}),
	}
}
