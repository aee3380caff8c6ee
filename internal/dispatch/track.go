package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/limits"
	"execution-core/internal/order"
	"execution-core/pkg/config"
)

// Executor is the submission engine a track hands orders to.
type Executor interface {
	Execute(ctx context.Context, o *order.Order) (order.Result, error)
}

// Track is one isolated execution lane for a single asset class. A burst or
// failure in one class cannot starve or contaminate another: each track owns
// its rate limiter, worker pool and queue bound, and shares only the global
// concurrency ceiling.
type Track struct {
	asset order.AssetClass
	cfg   config.TrackConfig

	slots   *limits.ConcurrencyLimiter // shared global+lane limiter
	rate    *limits.RateLimiter
	queued  limits.Counter
	workers chan struct{}
	wg      sync.WaitGroup

	exec    Executor
	metrics *TrackMetrics
	log     zerolog.Logger
}

// NewTrack builds a lane from a validated config.
func NewTrack(asset order.AssetClass, cfg config.TrackConfig, slots *limits.ConcurrencyLimiter, exec Executor, log zerolog.Logger) (*Track, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("track %s: %w", asset, err)
	}
	return &Track{
		asset:   asset,
		cfg:     cfg,
		slots:   slots,
		rate:    limits.NewRateLimiter(cfg.RequestsPerSecond),
		workers: make(chan struct{}, cfg.Workers),
		exec:    exec,
		metrics: NewTrackMetrics(),
		log:     log.With().Str("component", "track").Str("asset", string(asset)).Logger(),
	}, nil
}

// Asset returns the asset class this track serves.
func (t *Track) Asset() order.AssetClass { return t.asset }

// Metrics returns the track's metrics accumulator.
func (t *Track) Metrics() *TrackMetrics { return t.metrics }

// Active returns the number of orders currently holding a lane slot.
func (t *Track) Active() int64 { return t.slots.LaneActive(string(t.asset)) }

// Queued returns the number of submissions inside the track right now.
func (t *Track) Queued() int64 { return t.queued.Load() }

// SubmitOrder runs one order through the lane: queue bound, slot pair, rate
// token, worker slot, executor. Mismatches and slot timeouts are rejected
// immediately with no I/O; all held resources are released unconditionally
// on return.
func (t *Track) SubmitOrder(ctx context.Context, o *order.Order) (order.Result, error) {
	start := time.Now()
	t.metrics.RecordAttempt()

	if o.Asset != t.asset {
		return t.reject(o, start, order.KindValidation,
			fmt.Errorf("%w: order asset %s does not match track %s", order.ErrValidation, o.Asset, t.asset))
	}

	if !t.queued.IncBelow(int64(t.cfg.QueueSize)) {
		return t.reject(o, start, order.KindExhausted,
			fmt.Errorf("%w: track %s queue full (%d)", order.ErrExhausted, t.asset, t.cfg.QueueSize))
	}
	defer t.queued.Dec()

	lane := string(t.asset)
	if err := t.slots.AcquireWithin(ctx, lane, t.cfg.Timeout()); err != nil {
		return t.reject(o, start, order.KindExhausted,
			fmt.Errorf("%w: track %s slots: %v", order.ErrExhausted, t.asset, err))
	}
	defer t.slots.Release(lane)

	if err := o.Transition(order.StatusQueued); err != nil {
		return t.reject(o, start, order.KindValidation, err)
	}

	// Blocking rate token; bounded by the per-operation timeout.
	rctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout())
	err := t.rate.Wait(rctx, 1)
	cancel()
	if err != nil {
		_ = o.Transition(order.StatusCancelled)
		res := order.Failed(o.ID, "", order.StatusCancelled, order.KindExhausted,
			"timed out waiting for rate token")
		return t.finish(res, start), fmt.Errorf("%w: rate token: %v", order.ErrExhausted, err)
	}

	// Worker slot, bounded like the rate wait: a full pool must not pin
	// the slot pair and rate token indefinitely.
	wctx, cancelWait := context.WithTimeout(ctx, t.cfg.Timeout())
	select {
	case t.workers <- struct{}{}:
		cancelWait()
	case <-wctx.Done():
		cancelWait()
		_ = o.Transition(order.StatusCancelled)
		res := order.Failed(o.ID, "", order.StatusCancelled, order.KindExhausted,
			"timed out waiting for worker slot")
		return t.finish(res, start), fmt.Errorf("%w: worker slot: %v", order.ErrExhausted, wctx.Err())
	}

	if err := o.Transition(order.StatusProcessing); err != nil {
		<-t.workers
		return t.reject(o, start, order.KindValidation, err)
	}

	t.wg.Add(1)
	res, execErr := t.exec.Execute(ctx, o)
	<-t.workers
	t.wg.Done()

	return t.finish(res, start), execErr
}

// reject produces a synchronous no-I/O rejection.
func (t *Track) reject(o *order.Order, start time.Time, kind order.ErrorKind, cause error) (order.Result, error) {
	if o.Status == order.StatusPending {
		_ = o.Transition(order.StatusRejected)
	}
	res := order.Failed(o.ID, "", o.Status, kind, cause.Error())
	t.log.Warn().Str("order_id", o.ID).Str("kind", string(kind)).Msg(cause.Error())
	return t.finish(res, start), cause
}

// finish stamps the track and execution time and records metrics.
func (t *Track) finish(res order.Result, start time.Time) order.Result {
	res.Track = string(t.asset)
	res.ExecutionTime = time.Since(start)
	t.metrics.RecordOutcome(res)
	return res
}

// Shutdown drains the worker pool, waiting for in-flight executions.
func (t *Track) Shutdown() {
	t.wg.Wait()
	t.log.Info().Msg("track drained")
}
