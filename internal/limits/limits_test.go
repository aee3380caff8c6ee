package limits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterConcurrentIncDec(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
				c.Dec()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), c.Load())
}

func TestCounterIncBelow(t *testing.T) {
	var c Counter
	for i := 0; i < 5; i++ {
		require.True(t, c.IncBelow(5))
	}
	assert.False(t, c.IncBelow(5))
	assert.Equal(t, int64(5), c.Load())
}

func TestFlagLatches(t *testing.T) {
	var f Flag
	assert.False(t, f.IsSet())
	assert.True(t, f.Set())
	assert.False(t, f.Set(), "second Set should report no change")
	assert.True(t, f.IsSet())
	assert.True(t, f.Clear())
	assert.False(t, f.IsSet())
}

func TestRateLimiterAcquire(t *testing.T) {
	rl := NewRateLimiter(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, rl.Acquire(1))
	}
	assert.ErrorIs(t, rl.Acquire(1), ErrRateExceeded)
}

func TestRateLimiterWaitReplenishes(t *testing.T) {
	rl := NewRateLimiter(100)
	// Drain the bucket.
	for rl.Acquire(1) == nil {
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rl.Wait(ctx, 1))
}

func TestConcurrencyLimiterValidation(t *testing.T) {
	_, err := NewConcurrencyLimiter(0, nil)
	assert.Error(t, err)
	_, err = NewConcurrencyLimiter(10, map[string]int{"crypto": 0})
	assert.Error(t, err)
}

func TestConcurrencyLimiterPairAcquire(t *testing.T) {
	l, err := NewConcurrencyLimiter(3, map[string]int{"crypto": 2, "forex": 2})
	require.NoError(t, err)

	require.NoError(t, l.Acquire("crypto"))
	require.NoError(t, l.Acquire("crypto"))
	assert.ErrorIs(t, l.Acquire("crypto"), ErrSlotsExhausted)

	// One global slot left, forex lane has room.
	require.NoError(t, l.Acquire("forex"))
	assert.ErrorIs(t, l.Acquire("forex"), ErrSlotsExhausted)
	assert.Equal(t, int64(3), l.GlobalActive())

	l.Release("crypto")
	require.NoError(t, l.Acquire("forex"))

	assert.ErrorIs(t, l.Acquire("bonds"), ErrUnknownLane)
}

func TestConcurrencyLimiterRollbackOnLaneFull(t *testing.T) {
	l, err := NewConcurrencyLimiter(10, map[string]int{"crypto": 1})
	require.NoError(t, err)

	require.NoError(t, l.Acquire("crypto"))
	assert.ErrorIs(t, l.Acquire("crypto"), ErrSlotsExhausted)
	// Failed acquire must not leak a global slot.
	assert.Equal(t, int64(1), l.GlobalActive())
}

// The lane never exceeds its slice and the cross-lane sum never exceeds the
// global ceiling, even under heavy contention.
func TestConcurrencyLimiterInvariantUnderLoad(t *testing.T) {
	const (
		laneMax   = 10
		globalMax = 15
		workers   = 1000
	)
	l, err := NewConcurrencyLimiter(globalMax, map[string]int{"crypto": laneMax, "forex": laneMax})
	require.NoError(t, err)

	var wg sync.WaitGroup
	violations := make(chan string, workers)
	for i := 0; i < workers; i++ {
		lane := "crypto"
		if i%2 == 1 {
			lane = "forex"
		}
		wg.Add(1)
		go func(lane string) {
			defer wg.Done()
			ctx := context.Background()
			if err := l.AcquireWithin(ctx, lane, 500*time.Millisecond); err != nil {
				return
			}
			defer l.Release(lane)
			if l.LaneActive(lane) > laneMax {
				violations <- "lane ceiling exceeded"
			}
			if l.GlobalActive() > globalMax {
				violations <- "global ceiling exceeded"
			}
			time.Sleep(time.Millisecond)
		}(lane)
	}
	wg.Wait()
	close(violations)
	for v := range violations {
		t.Fatal(v)
	}
	assert.Equal(t, int64(0), l.GlobalActive())
}

func TestAcquireWithinTimesOut(t *testing.T) {
	l, err := NewConcurrencyLimiter(1, map[string]int{"crypto": 1})
	require.NoError(t, err)
	require.NoError(t, l.Acquire("crypto"))

	start := time.Now()
	err = l.AcquireWithin(context.Background(), "crypto", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAcquireTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
