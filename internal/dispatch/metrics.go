// Package dispatch routes orders to per-asset-class execution tracks under
// the shared circuit breaker and concurrency ceilings.
package dispatch

import (
	"sync"

	"execution-core/internal/monitor"
	"execution-core/internal/order"
)

// TrackMetrics accumulates per-track execution statistics.
type TrackMetrics struct {
	mu        sync.Mutex
	attempts  uint64
	successes uint64
	failures  map[order.ErrorKind]uint64
	latency   *monitor.LatencyHistogram
}

// NewTrackMetrics creates an empty metrics accumulator.
func NewTrackMetrics() *TrackMetrics {
	return &TrackMetrics{
		failures: make(map[order.ErrorKind]uint64),
		latency:  monitor.NewLatencyHistogram(1000),
	}
}

// RecordAttempt counts one submission reaching the track.
func (m *TrackMetrics) RecordAttempt() {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

// RecordOutcome counts the result and its latency.
func (m *TrackMetrics) RecordOutcome(res order.Result) {
	m.mu.Lock()
	if res.Success {
		m.successes++
	} else if res.ErrorKind != nil {
		m.failures[*res.ErrorKind]++
	}
	m.mu.Unlock()
	if res.ExecutionTime > 0 {
		m.latency.RecordDuration(res.ExecutionTime)
	}
}

// MetricsSnapshot is the externally visible per-track counters.
type MetricsSnapshot struct {
	Attempts  uint64                     `json:"attempts"`
	Successes uint64                     `json:"successes"`
	Failures  map[order.ErrorKind]uint64 `json:"failures_by_reason"`
	Latency   monitor.LatencyStats       `json:"latency"`
}

// Snapshot returns a copy of the counters.
func (m *TrackMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	failures := make(map[order.ErrorKind]uint64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	snap := MetricsSnapshot{
		Attempts:  m.attempts,
		Successes: m.successes,
		Failures:  failures,
	}
	m.mu.Unlock()
	snap.Latency = m.latency.Stats()
	return snap
}
