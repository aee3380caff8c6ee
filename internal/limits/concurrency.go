package limits

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownLane     = errors.New("unknown lane")
	ErrSlotsExhausted  = errors.New("concurrency slots exhausted")
	ErrAcquireTimedOut = errors.New("timed out acquiring concurrency slot")
)

// laneState tracks in-flight work for one lane.
type laneState struct {
	active Counter
	max    int64
}

// ConcurrencyLimiter enforces one global in-flight ceiling plus independent
// per-lane ceilings. An acquire succeeds only when both the lane and the
// global counter are below their ceilings; both are released together.
type ConcurrencyLimiter struct {
	global    Counter
	globalMax int64
	lanes     map[string]*laneState
}

// NewConcurrencyLimiter builds a limiter for the given lane ceilings. The
// lane set is fixed at construction; the counters are the only mutable state
// and are manipulated lock-free.
func NewConcurrencyLimiter(globalMax int, laneMax map[string]int) (*ConcurrencyLimiter, error) {
	if globalMax <= 0 {
		return nil, fmt.Errorf("global ceiling must be positive, got %d", globalMax)
	}
	lanes := make(map[string]*laneState, len(laneMax))
	for name, max := range laneMax {
		if max <= 0 {
			return nil, fmt.Errorf("lane %q ceiling must be positive, got %d", name, max)
		}
		lanes[name] = &laneState{max: int64(max)}
	}
	return &ConcurrencyLimiter{globalMax: int64(globalMax), lanes: lanes}, nil
}

// Acquire claims one global slot and one slot on the named lane, or neither.
func (l *ConcurrencyLimiter) Acquire(lane string) error {
	ls, ok := l.lanes[lane]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLane, lane)
	}
	if !l.global.IncBelow(l.globalMax) {
		return ErrSlotsExhausted
	}
	if !ls.active.IncBelow(ls.max) {
		// Roll back the global slot so the pair stays consistent.
		l.global.Dec()
		return ErrSlotsExhausted
	}
	return nil
}

// AcquireWithin retries Acquire until it succeeds, the timeout elapses, or
// ctx is done. A timed-out acquisition claims nothing.
func (l *ConcurrencyLimiter) AcquireWithin(ctx context.Context, lane string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := l.Acquire(lane)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnknownLane) {
			return err
		}
		if time.Now().After(deadline) {
			return ErrAcquireTimedOut
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// Release returns the slot pair claimed by a successful Acquire.
func (l *ConcurrencyLimiter) Release(lane string) {
	ls, ok := l.lanes[lane]
	if !ok {
		return
	}
	ls.active.Dec()
	l.global.Dec()
}

// HasCapacity reports whether an Acquire on lane could currently succeed.
// Advisory only; the answer may be stale by the time the caller acts on it.
func (l *ConcurrencyLimiter) HasCapacity(lane string) bool {
	ls, ok := l.lanes[lane]
	if !ok {
		return false
	}
	return ls.active.Load() < ls.max && l.global.Load() < l.globalMax
}

// LaneActive returns the in-flight count for lane.
func (l *ConcurrencyLimiter) LaneActive(lane string) int64 {
	if ls, ok := l.lanes[lane]; ok {
		return ls.active.Load()
	}
	return 0
}

// LaneMax returns the ceiling for lane.
func (l *ConcurrencyLimiter) LaneMax(lane string) int64 {
	if ls, ok := l.lanes[lane]; ok {
		return ls.max
	}
	return 0
}

// GlobalActive returns the total in-flight count.
func (l *ConcurrencyLimiter) GlobalActive() int64 {
	return l.global.Load()
}

// GlobalMax returns the global ceiling.
func (l *ConcurrencyLimiter) GlobalMax() int64 {
	return l.globalMax
}
