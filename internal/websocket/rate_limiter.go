package websocket

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultRateLimit is the number of sends allowed per identity per window.
const DefaultRateLimit = 100

// RateLimiter counts sends per identity in fixed windows. The window starts
// with the first send and the counter expires with it.
type RateLimiter struct {
	limit  int
	counts *cache.Cache
	window time.Duration
}

// NewRateLimiter allows limit events per window for each key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		counts: cache.New(window, 5*window),
	}
}

// Allow records one event for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	for {
		if err := rl.counts.Add(key, 1, rl.window); err == nil {
			return true
		}
		n, err := rl.counts.IncrementInt(key, 1)
		if err != nil {
			// expired between Add and IncrementInt
			continue
		}
		return n <= rl.limit
	}
}
