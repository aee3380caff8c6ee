// Package limits provides the shared throttling primitives used by the
// execution lanes: lock-free counters, a latching flag, a token-bucket rate
// limiter and the global/per-lane concurrency limiter.
package limits

import "sync/atomic"

// Counter is a lock-free signed counter shared across goroutines.
type Counter struct {
	v atomic.Int64
}

// Inc increments the counter and returns the new value.
func (c *Counter) Inc() int64 {
	return c.v.Add(1)
}

// Dec decrements the counter and returns the new value.
func (c *Counter) Dec() int64 {
	return c.v.Add(-1)
}

// Add adds delta and returns the new value.
func (c *Counter) Add(delta int64) int64 {
	return c.v.Add(delta)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.v.Load()
}

// CompareAndSwap swaps old for new atomically.
func (c *Counter) CompareAndSwap(old, new int64) bool {
	return c.v.CompareAndSwap(old, new)
}

// IncBelow increments the counter only if the result would not exceed max.
// Returns false without modifying the counter when the ceiling is hit.
func (c *Counter) IncBelow(max int64) bool {
	for {
		cur := c.v.Load()
		if cur >= max {
			return false
		}
		if c.v.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Flag is an atomic boolean. Once Set it stays set until explicitly cleared.
type Flag struct {
	v atomic.Bool
}

// Set raises the flag. Returns true if this call changed it.
func (f *Flag) Set() bool {
	return f.v.CompareAndSwap(false, true)
}

// Clear lowers the flag. Returns true if this call changed it.
func (f *Flag) Clear() bool {
	return f.v.CompareAndSwap(true, false)
}

// IsSet reports the current state.
func (f *Flag) IsSet() bool {
	return f.v.Load()
}
