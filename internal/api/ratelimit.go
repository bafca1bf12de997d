package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/chenhunghan/oxpilot/internal/metrics"
)

// RateLimit admits at most limit requests per second with the given burst
// across all clients and answers 429 otherwise. Admitted requests still queue
// behind the actor.
func RateLimit(limit rate.Limit, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = max(int(limit), 1)
	}
	lim := rate.NewLimiter(limit, burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !lim.Allow() {
				metrics.RecordRejected("rate_limited")
				c.Response().Header().Set("Retry-After", "1")
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "too many requests", "", "rate_limit_exceeded")
			}
			return next(c)
		}
	}
}
