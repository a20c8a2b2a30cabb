// Package ratelimit paces outbound page fetches with a token bucket so the
// scraper never hammers the source site, whatever the discovery order yields.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces requests against a single site. A non-positive interval
// disables pacing entirely.
type Limiter struct {
	bucket *rate.Limiter
}

// New builds a Limiter that releases one request per interval. Burst is 1:
// the first request goes through immediately, every later one waits its turn.
func New(interval time.Duration) *Limiter {
	if interval <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next request slot opens or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
