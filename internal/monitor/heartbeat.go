package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	tomb "gopkg.in/tomb.v2"

	"execution-core/internal/events"
)

const maxHealthEvents = 64

// Prober is the transport surface the heartbeat needs: a round-trip probe
// and the time of the last successful traffic, so probes fire only after
// idle time instead of constant polling.
type Prober interface {
	Ping(ctx context.Context) (time.Duration, error)
	LastActive() time.Time
}

// HealthEvent records one health transition for the status endpoint.
type HealthEvent struct {
	Healthy bool      `json:"healthy"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Status is the heartbeat's externally visible state.
type Status struct {
	Running             bool          `json:"running"`
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastProbeAt         time.Time     `json:"last_probe_at,omitempty"`
	Latency             LatencyStats  `json:"latency"`
	Events              []HealthEvent `json:"events,omitempty"`
}

// Heartbeat detects a dead link before a trading decision is wasted on it.
// It reuses the order transport for its probes and is fully cancellable: no
// background work survives Stop.
type Heartbeat struct {
	probe     Prober
	interval  time.Duration
	threshold int

	mu        sync.Mutex
	t         *tomb.Tomb
	healthy   bool
	failures  int
	lastProbe time.Time
	events    []HealthEvent

	latency     *LatencyHistogram
	onUnhealthy func(reason string)
	bus         *events.Bus
	log         zerolog.Logger
}

// NewHeartbeat probes after every interval of link idleness and declares the
// link unhealthy after threshold consecutive failures.
func NewHeartbeat(probe Prober, interval time.Duration, threshold int, bus *events.Bus, log zerolog.Logger) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Heartbeat{
		probe:     probe,
		interval:  interval,
		threshold: threshold,
		healthy:   true,
		latency:   NewLatencyHistogram(256),
		bus:       bus,
		log:       log.With().Str("component", "heartbeat").Logger(),
	}
}

// OnUnhealthy registers the hook fired when the failure threshold is
// crossed; the risk layer uses it to trip the circuit breaker.
func (h *Heartbeat) OnUnhealthy(fn func(reason string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnhealthy = fn
}

// Start launches the background prober. Idempotent while running.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.t != nil && h.t.Alive() {
		return
	}
	t, ctx := tomb.WithContext(context.Background())
	h.t = t
	t.Go(func() error {
		return h.run(ctx)
	})
	h.log.Info().Dur("interval", h.interval).Int("threshold", h.threshold).Msg("heartbeat started")
}

// Stop cancels the prober and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	t := h.t
	h.mu.Unlock()
	if t == nil {
		return
	}
	t.Kill(nil)
	_ = t.Wait()
	h.log.Info().Msg("heartbeat stopped")
}

// run probes only once the link has been idle past the interval; recent
// order traffic already proves liveness.
func (h *Heartbeat) run(ctx context.Context) error {
	for {
		idle := time.Since(h.probe.LastActive())
		wait := h.interval - idle
		if wait <= 0 {
			h.probeOnce(ctx)
			wait = h.interval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (h *Heartbeat) probeOnce(ctx context.Context) {
	latency, err := h.probe.Ping(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastProbe = time.Now()

	if err != nil {
		h.failures++
		h.log.Warn().Err(err).Int("consecutive_failures", h.failures).Msg("heartbeat probe failed")
		if h.healthy && h.failures >= h.threshold {
			reason := fmt.Sprintf("link unhealthy: %d consecutive heartbeat failures (last: %v)", h.failures, err)
			h.transitionLocked(false, reason)
			if h.onUnhealthy != nil {
				h.onUnhealthy(reason)
			}
		}
		return
	}

	h.latency.RecordDuration(latency)
	h.failures = 0
	if !h.healthy {
		h.transitionLocked(true, "heartbeat probe succeeded")
	}
}

func (h *Heartbeat) transitionLocked(healthy bool, reason string) {
	h.healthy = healthy
	ev := HealthEvent{Healthy: healthy, Reason: reason, At: time.Now()}
	h.events = append(h.events, ev)
	if len(h.events) > maxHealthEvents {
		h.events = h.events[len(h.events)-maxHealthEvents:]
	}
	h.log.Warn().Bool("healthy", healthy).Str("reason", reason).Msg("link health changed")
	if h.bus != nil {
		h.bus.Publish(events.EventLinkHealth, ev)
	}
}

// Healthy reports the current link health.
func (h *Heartbeat) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy
}

// Status returns the heartbeat state including rolling latency statistics
// and recent health transitions.
func (h *Heartbeat) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	evs := make([]HealthEvent, len(h.events))
	copy(evs, h.events)
	return Status{
		Running:             h.t != nil && h.t.Alive(),
		Healthy:             h.healthy,
		ConsecutiveFailures: h.failures,
		LastProbeAt:         h.lastProbe,
		Latency:             h.latency.Stats(),
		Events:              evs,
	}
}
