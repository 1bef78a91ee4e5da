// Package ratelimit is the process-wide request limiter for the HTTP API.
// Init installs it, Reset removes it; until Init runs every request is allowed.
package ratelimit

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

var (
	mu      sync.RWMutex
	limiter *rate.Limiter
)

// Init replaces the limiter. rps <= 0 disables limiting.
func Init(rps float64, burst int) {
	mu.Lock()
	defer mu.Unlock()

	if rps <= 0 {
		limiter = nil
		return
	}
	if burst < 1 {
		burst = 1
	}
	limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

func Reset() {
	mu.Lock()
	limiter = nil
	mu.Unlock()
}

func Allow() bool {
	mu.RLock()
	l := limiter
	mu.RUnlock()

	if l == nil {
		return true
	}
	return l.Allow()
}

func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !Allow() {
			c.Set(fiber.HeaderRetryAfter, "1")
			return fiber.NewError(fiber.StatusTooManyRequests, "too many requests")
		}
		return c.Next()
	}
}
