package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/pkg/config"
)

// countingExecutor stands in for the gateway path and tracks peak
// concurrency so tests can assert the ceilings actually held.
type countingExecutor struct {
	calls   atomic.Int64
	current atomic.Int64
	peak    atomic.Int64
	delay   time.Duration
}

func (e *countingExecutor) Execute(ctx context.Context, o *order.Order) (order.Result, error) {
	e.calls.Add(1)
	cur := e.current.Add(1)
	for {
		p := e.peak.Load()
		if cur <= p || e.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	e.current.Add(-1)

	if err := o.Transition(order.StatusExecuted); err != nil {
		return order.Result{}, err
	}
	return order.Executed(o, order.NewRequestID(), "ticket", 100), nil
}

func testTracksFile() *config.TracksFile {
	return &config.TracksFile{
		Tracks: map[string]config.TrackConfig{
			"CRYPTO": {MaxConcurrent: 10, RequestsPerSecond: 10_000, QueueSize: 2000, Workers: 10, TimeoutMS: 5000},
			"FOREX":  {MaxConcurrent: 5, RequestsPerSecond: 10_000, QueueSize: 2000, Workers: 5, TimeoutMS: 5000},
		},
	}
}

func newTestDispatcher(t *testing.T, exec Executor) (*Dispatcher, *risk.CircuitBreaker) {
	t.Helper()
	breaker := risk.NewCircuitBreaker(nil, zerolog.Nop())
	riskMon, err := risk.NewMonitor(risk.DefaultLimits(), breaker, nil, zerolog.Nop())
	require.NoError(t, err)
	d, err := NewDispatcher(testTracksFile(), riskMon, exec, nil, zerolog.Nop())
	require.NoError(t, err)
	return d, breaker
}

func newOrder(t *testing.T, asset order.AssetClass, symbol string) *order.Order {
	t.Helper()
	o, err := order.New(asset, symbol, order.KindMarket, order.SideBuy, 1, 0)
	require.NoError(t, err)
	return o
}

func TestDispatchExecutes(t *testing.T) {
	exec := &countingExecutor{}
	d, _ := newTestDispatcher(t, exec)

	o := newOrder(t, order.AssetCrypto, "BTCUSDT")
	res, err := d.Dispatch(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, order.StatusExecuted, o.Status)
	assert.Equal(t, "CRYPTO", res.Track)
	assert.Positive(t, res.ExecutionTime)
}

func TestDispatchUnconfiguredTrackNoNetwork(t *testing.T) {
	exec := &countingExecutor{}
	d, _ := newTestDispatcher(t, exec) // no STOCK track configured

	o := newOrder(t, order.AssetStock, "AAPL")
	res, err := d.Dispatch(context.Background(), o)
	require.ErrorIs(t, err, order.ErrValidation)
	require.NotNil(t, res.ErrorKind)
	assert.Equal(t, order.KindValidation, *res.ErrorKind)
	assert.Equal(t, order.StatusRejected, o.Status)
	assert.Zero(t, exec.calls.Load(), "a validation rejection must never reach the transport")
}

func TestDispatchHaltedByBreakerNoNetwork(t *testing.T) {
	exec := &countingExecutor{}
	d, breaker := newTestDispatcher(t, exec)
	breaker.Engage("drawdown limit breached", nil)

	for i := 0; i < 5; i++ {
		o := newOrder(t, order.AssetCrypto, "BTCUSDT")
		res, err := d.Dispatch(context.Background(), o)
		require.ErrorIs(t, err, order.ErrRiskHalted)
		require.NotNil(t, res.ErrorKind)
		assert.Equal(t, order.KindRiskHalted, *res.ErrorKind)
		assert.Contains(t, res.Message, "drawdown")
	}
	assert.Zero(t, exec.calls.Load(), "no submission may pass an engaged breaker")

	require.NoError(t, breaker.Disengage("ops"))
	o := newOrder(t, order.AssetCrypto, "BTCUSDT")
	_, err := d.Dispatch(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.calls.Load())
}

func TestDispatchOversizedNotionalRejected(t *testing.T) {
	exec := &countingExecutor{}
	d, _ := newTestDispatcher(t, exec) // 100k position size limit

	o, err := order.New(order.AssetCrypto, "BTCUSDT", order.KindLimit, order.SideBuy, 3, 50_000)
	require.NoError(t, err)
	res, err := d.Dispatch(context.Background(), o)
	require.ErrorIs(t, err, order.ErrValidation)
	require.NotNil(t, res.ErrorKind)
	assert.Equal(t, order.KindValidation, *res.ErrorKind)
	assert.Zero(t, exec.calls.Load())
}

func TestTrackAssetMismatchRejected(t *testing.T) {
	exec := &countingExecutor{}
	d, _ := newTestDispatcher(t, exec)
	track := d.tracks[order.AssetCrypto]

	o := newOrder(t, order.AssetForex, "EURUSD")
	res, err := track.SubmitOrder(context.Background(), o)
	require.ErrorIs(t, err, order.ErrValidation)
	require.NotNil(t, res.ErrorKind)
	assert.Equal(t, order.KindValidation, *res.ErrorKind)
	assert.Zero(t, exec.calls.Load())
}

func TestConcurrencyCeilingUnderLoad(t *testing.T) {
	exec := &countingExecutor{delay: 2 * time.Millisecond}
	d, _ := newTestDispatcher(t, exec) // CRYPTO lane capped at 10

	const n = 1000
	var wg sync.WaitGroup
	var executed, exhausted atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := newOrder(t, order.AssetCrypto, "BTCUSDT")
			_, err := d.Dispatch(context.Background(), o)
			switch {
			case err == nil:
				executed.Add(1)
			case order.KindOf(err) == order.KindExhausted:
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error kind for %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, exec.peak.Load(), int64(10), "lane ceiling must hold under load")
	assert.Equal(t, int64(n), executed.Load()+exhausted.Load())
	assert.Positive(t, executed.Load())
	assert.Zero(t, d.slots.GlobalActive(), "all slots must be released")
	assert.Zero(t, d.tracks[order.AssetCrypto].Queued())
}

func TestLanesAreIsolated(t *testing.T) {
	// Saturate CRYPTO and verify FOREX still executes.
	exec := &countingExecutor{delay: 50 * time.Millisecond}
	d, _ := newTestDispatcher(t, exec)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := newOrder(t, order.AssetCrypto, "BTCUSDT")
			_, _ = d.Dispatch(context.Background(), o)
		}()
	}

	time.Sleep(10 * time.Millisecond) // let the crypto lane fill
	o := newOrder(t, order.AssetForex, "EURUSD")
	res, err := d.Dispatch(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, res.Success)
	wg.Wait()
}

func TestDispatcherStatusAndMetrics(t *testing.T) {
	exec := &countingExecutor{}
	d, _ := newTestDispatcher(t, exec)

	for i := 0; i < 3; i++ {
		o := newOrder(t, order.AssetCrypto, "BTCUSDT")
		_, err := d.Dispatch(context.Background(), o)
		require.NoError(t, err)
	}
	o := newOrder(t, order.AssetStock, "AAPL")
	_, _ = d.Dispatch(context.Background(), o)

	st := d.Status()
	assert.Contains(t, st.Tracks, "CRYPTO")
	assert.Contains(t, st.Tracks, "FOREX")
	assert.Equal(t, int64(15), st.GlobalMax)
	assert.Zero(t, st.GlobalActive)

	metrics := d.Metrics()
	assert.Equal(t, uint64(3), metrics["CRYPTO"].Attempts)
	assert.Equal(t, uint64(3), metrics["CRYPTO"].Successes)
}

// auditRecorder captures what the dispatcher hands to the audit trail.
type auditRecorder struct {
	mu      sync.Mutex
	results []order.Result
}

func (a *auditRecorder) RecordResult(ctx context.Context, o *order.Order, res order.Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, res)
	return nil
}

func TestDispatchAuditsEveryOutcome(t *testing.T) {
	exec := &countingExecutor{}
	audit := &auditRecorder{}
	breaker := risk.NewCircuitBreaker(nil, zerolog.Nop())
	riskMon, err := risk.NewMonitor(risk.DefaultLimits(), breaker, nil, zerolog.Nop())
	require.NoError(t, err)
	d, err := NewDispatcher(testTracksFile(), riskMon, exec, audit, zerolog.Nop())
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), newOrder(t, order.AssetCrypto, "BTCUSDT"))
	require.NoError(t, err)
	_, _ = d.Dispatch(context.Background(), newOrder(t, order.AssetStock, "AAPL"))

	audit.mu.Lock()
	defer audit.mu.Unlock()
	require.Len(t, audit.results, 2)
	assert.True(t, audit.results[0].Success)
	assert.False(t, audit.results[1].Success)
}
