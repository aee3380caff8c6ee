package limits

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateExceeded = errors.New("rate limit exceeded")

// RateLimiter bounds request throughput toward one destination using a
// continuously replenished token bucket.
type RateLimiter struct {
	bucket *rate.Limiter
}

// NewRateLimiter allows requestsPerSecond sustained with a burst of the same
// size (minimum 1).
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{bucket: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

// Acquire takes n tokens without blocking. Returns ErrRateExceeded when the
// bucket cannot cover the request right now.
func (r *RateLimiter) Acquire(n int) error {
	if r.bucket.AllowN(time.Now(), n) {
		return nil
	}
	return ErrRateExceeded
}

// Wait blocks until n tokens are available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, n int) error {
	return r.bucket.WaitN(ctx, n)
}

// Tokens reports the tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	return r.bucket.Tokens()
}
