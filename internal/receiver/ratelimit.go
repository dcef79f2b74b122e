package receiver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/rytswd-lab/socketmode/internal/metrics"
)

const (
	defaultOAuthRatePerSecond = 5
	defaultOAuthBurst         = 10
	rateLimiterExpiry         = 5 * time.Minute
)

// newOAuthRateLimiter limits the install and redirect paths per client IP.
// Every other path skips the limiter; custom routes bring their own policy.
func newOAuthRateLimiter(ratePerSecond float64, burst int, protected ...string) echo.MiddlewareFunc {
	paths := make(map[string]struct{}, len(protected))
	for _, p := range protected {
		paths[p] = struct{}{}
	}

	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			_, ok := paths[c.Request().URL.Path]
			return !ok
		},
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			metrics.OAuthRateLimited.Inc()
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
