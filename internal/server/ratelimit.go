package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/DagiiM/webops-sub005/internal/metrics"
)

type rateState struct {
	count     int
	windowEnd time.Time
}

// memoryRateLimiter keeps per-key fixed windows in memory. Good enough for
// a single-node control plane.
type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateState
}

func newMemoryRateLimiter() *memoryRateLimiter {
	return &memoryRateLimiter{entries: make(map[string]rateState)}
}

func (rl *memoryRateLimiter) allow(key string, limit int, window time.Duration) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		rl.entries[key] = rateState{count: 1, windowEnd: now.Add(window)}
		return true
	}
	if state.count >= limit {
		return false
	}
	state.count++
	rl.entries[key] = state
	return true
}

// rateLimitMiddleware rejects clients exceeding limit requests per minute
// per IP with 429.
func rateLimitMiddleware(limit int, m *metrics.Metrics) echo.MiddlewareFunc {
	rl := newMemoryRateLimiter()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.allow(c.RealIP(), limit, time.Minute) {
				m.RecordRequest(c.Request().Method, c.Path(), http.StatusTooManyRequests, 0)
				return c.NoContent(http.StatusTooManyRequests)
			}
			return next(c)
		}
	}
}
