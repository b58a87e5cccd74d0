package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/ratelimit"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimitKey buckets authenticated callers by user id and anonymous ones by client IP.
func RateLimitKey(c *fiber.Ctx, scope string) ratelimit.Key {
	if id, ok := UserID(c); ok {
		return ratelimit.Key{Scope: scope, Subject: "user:" + id.String()}
	}
	return ratelimit.Key{Scope: scope, Subject: "ip:" + c.IP()}
}

// RateLimit throttles requests in scope. Limiter errors fail open.
func RateLimit(limiter ratelimit.Limiter, scope string, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		key := RateLimitKey(c, scope)

		dec, err := limiter.Take(c.UserContext(), key, time.Now())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", "key", key.String(), "error", err)
			return c.Next()
		}
		c.Set(HeaderRateLimitLimit, strconv.Itoa(dec.Limit))
		c.Set(HeaderRateLimitRemaining, strconv.Itoa(dec.Remaining))
		c.Set(HeaderRateLimitReset, strconv.FormatInt(dec.ResetAt.Unix(), 10))
		if dec.Allowed {
			return c.Next()
		}

		retry := dec.RetryAfterSeconds()
		logger.Debug("rate limited", "key", key.String(), "retry_after_s", retry)
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retry))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"code":                "RATE_LIMITED",
			"message":             "too many " + scope + " requests",
			"scope":               scope,
			"limit":               dec.Limit,
			"window_seconds":      int(dec.Window / time.Second),
			"retry_after_seconds": retry,
		})
	}
}
