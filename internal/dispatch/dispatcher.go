package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"execution-core/internal/limits"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/pkg/config"
)

// Auditor persists results for external reconciliation tooling. Optional.
type Auditor interface {
	RecordResult(ctx context.Context, o *order.Order, res order.Result) error
}

// Dispatcher is the single entry point for order submission. It owns one
// track per asset class plus the shared global limiter, and gates everything
// behind the circuit breaker.
type Dispatcher struct {
	tracks  map[order.AssetClass]*Track
	slots   *limits.ConcurrencyLimiter
	riskMon *risk.Monitor
	audit   Auditor
	log     zerolog.Logger
}

// NewDispatcher builds the tracks from validated config. The global ceiling
// is raised to at least the sum of per-track ceilings.
func NewDispatcher(tf *config.TracksFile, riskMon *risk.Monitor, exec Executor, audit Auditor, log zerolog.Logger) (*Dispatcher, error) {
	laneMax := make(map[string]int, len(tf.Tracks))
	sum := 0
	for name, tc := range tf.Tracks {
		asset, err := order.ParseAssetClass(name)
		if err != nil {
			return nil, err
		}
		laneMax[string(asset)] = tc.MaxConcurrent
		sum += tc.MaxConcurrent
	}
	globalMax := tf.GlobalMaxConcurrent
	if globalMax < sum {
		globalMax = sum
	}

	slots, err := limits.NewConcurrencyLimiter(globalMax, laneMax)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		tracks:  make(map[order.AssetClass]*Track, len(tf.Tracks)),
		slots:   slots,
		riskMon: riskMon,
		audit:   audit,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
	for name, tc := range tf.Tracks {
		asset, _ := order.ParseAssetClass(name)
		track, err := NewTrack(asset, tc, slots, exec, log)
		if err != nil {
			return nil, err
		}
		d.tracks[asset] = track
	}
	return d, nil
}

// Dispatch classifies the order, applies the risk and capacity gates, and
// routes it to the matching track. Rejections here never touch the network.
func (d *Dispatcher) Dispatch(ctx context.Context, o *order.Order) (order.Result, error) {
	track, ok := d.tracks[o.Asset]
	if !ok {
		err := fmt.Errorf("%w: no track configured for asset class %s", order.ErrValidation, o.Asset)
		return d.rejected(ctx, o, order.KindValidation, err)
	}

	// Hard gate: no submission passes while the breaker is engaged.
	if !d.riskMon.IsSafe() {
		state := d.riskMon.Breaker().State()
		err := fmt.Errorf("%w: %s", order.ErrRiskHalted, state.Reason)
		return d.rejected(ctx, o, order.KindRiskHalted, err)
	}

	if err := d.riskMon.ValidateNotional(o.Notional(o.Price)); err != nil {
		return d.rejected(ctx, o, order.KindValidation,
			fmt.Errorf("%w: %v", order.ErrValidation, err))
	}

	// Fail fast when the target track has no capacity right now; the track
	// re-checks authoritatively under its own timeout.
	if !d.slots.HasCapacity(string(o.Asset)) {
		err := fmt.Errorf("%w: no capacity on track %s", order.ErrExhausted, o.Asset)
		return d.rejected(ctx, o, order.KindExhausted, err)
	}

	res, err := track.SubmitOrder(ctx, o)
	d.record(ctx, o, res)
	return res, err
}

func (d *Dispatcher) rejected(ctx context.Context, o *order.Order, kind order.ErrorKind, cause error) (order.Result, error) {
	if o.Status == order.StatusPending {
		_ = o.Transition(order.StatusRejected)
	}
	res := order.Failed(o.ID, "", o.Status, kind, cause.Error())
	res.Track = string(o.Asset)
	d.log.Warn().Str("order_id", o.ID).Str("kind", string(kind)).Msg(cause.Error())
	d.record(ctx, o, res)
	return res, cause
}

func (d *Dispatcher) record(ctx context.Context, o *order.Order, res order.Result) {
	if d.audit == nil {
		return
	}
	if err := d.audit.RecordResult(ctx, o, res); err != nil {
		d.log.Error().Err(err).Str("order_id", o.ID).Msg("audit record failed")
	}
}

// TrackStatus is one lane's live usage.
type TrackStatus struct {
	Active    int64 `json:"active"`
	Max       int64 `json:"max"`
	Queued    int64 `json:"queued"`
	QueueSize int   `json:"queue_size"`
}

// SystemStatus is the dispatcher-wide snapshot for the operator dashboard.
type SystemStatus struct {
	Tracks       map[string]TrackStatus `json:"tracks"`
	GlobalActive int64                  `json:"global_active"`
	GlobalMax    int64                  `json:"global_max"`
	Breaker      risk.BreakerState      `json:"breaker"`
}

// Status aggregates per-track active counts, global usage and the breaker.
func (d *Dispatcher) Status() SystemStatus {
	st := SystemStatus{
		Tracks:       make(map[string]TrackStatus, len(d.tracks)),
		GlobalActive: d.slots.GlobalActive(),
		GlobalMax:    d.slots.GlobalMax(),
		Breaker:      d.riskMon.Breaker().State(),
	}
	for asset, t := range d.tracks {
		st.Tracks[string(asset)] = TrackStatus{
			Active:    t.Active(),
			Max:       d.slots.LaneMax(string(asset)),
			Queued:    t.Queued(),
			QueueSize: t.cfg.QueueSize,
		}
	}
	return st
}

// Metrics returns every track's counters keyed by asset class.
func (d *Dispatcher) Metrics() map[string]MetricsSnapshot {
	out := make(map[string]MetricsSnapshot, len(d.tracks))
	for asset, t := range d.tracks {
		out[string(asset)] = t.Metrics().Snapshot()
	}
	return out
}

// ShutdownAll drains every track's worker pool.
func (d *Dispatcher) ShutdownAll() {
	for _, t := range d.tracks {
		t.Shutdown()
	}
	d.log.Info().Msg("all tracks drained")
}
