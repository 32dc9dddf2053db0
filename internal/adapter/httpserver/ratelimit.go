package httpserver

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/pscheid92/fanout/internal/platform/config"
	apperrors "github.com/pscheid92/fanout/internal/platform/errors"
)

// newBroadcastLimiter budgets POST /broadcast per caller IP with a token
// bucket of BROADCAST_RATE_LIMIT per second and BROADCAST_RATE_BURST tokens.
// A denied call is answered with the usual JSON error body (type
// rate_limited) and a Retry-After header.
func newBroadcastLimiter(cfg *config.Config) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(cfg.BroadcastRateLimit),
		Burst:     cfg.BroadcastRateBurst,
		ExpiresIn: cfg.BroadcastRateExpiry,
	})
	retryAfter := retryAfterSeconds(cfg.BroadcastRateLimit)

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(_ echo.Context, err error) error {
			return apperrors.InternalError("broadcast rate limiter failed", err)
		},
		DenyHandler: func(c echo.Context, caller string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return apperrors.RateLimitedError("broadcast rate limit exceeded").
				WithField("caller", caller).
				WithField("retry_after_seconds", retryAfter)
		},
	})
}

// retryAfterSeconds is the wait until one token is back, rounded up.
func retryAfterSeconds(perSecond float64) int {
	if perSecond <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/perSecond)))
}
