package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/store"
	"github.com/makeasinger/studio/pkg/response"
)

type RateLimiter struct {
	kv  store.KV
	log zerolog.Logger
}

func NewRateLimiter(kv store.KV, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{kv: kv, log: log}
}

// Limit creates a rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" {
			return c.Next() // auth middleware rejects anonymous callers
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		count, ttl, err := rl.kv.Incr(ctx, key, window)
		if err != nil {
			// Fail open
			rl.log.Warn().Err(err).Str("key", key).Msg("rate limit counter unavailable")
			return c.Next()
		}

		if count > int64(maxRequests) {
			c.Set("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))
			return response.RateLimited(c)
		}

		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
		c.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", maxRequests-int(count)))

		return c.Next()
	}
}

// GenerateLimit limits generation submissions per hour
func (rl *RateLimiter) GenerateLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("generate", maxPerHour, time.Hour)
}

// AssistantLimit limits assistant messages per minute
func (rl *RateLimiter) AssistantLimit(maxPerMin int) fiber.Handler {
	return rl.Limit("assistant", maxPerMin, time.Minute)
}
