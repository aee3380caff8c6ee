package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
)

// warningRatio is the fraction of a hard limit at which the alert level
// escalates to WARNING.
const warningRatio = 0.8

// Monitor recomputes account risk on every update and compares it against
// the hard limits. Any breach immediately and latchingly engages the circuit
// breaker; it never auto-clears on a subsequent good tick.
type Monitor struct {
	mu      sync.Mutex
	limits  Limits
	snap    AccountSnapshot
	breaker *CircuitBreaker

	bus *events.Bus
	log zerolog.Logger
}

// NewMonitor validates the limits and binds the monitor to its breaker.
func NewMonitor(l Limits, breaker *CircuitBreaker, bus *events.Bus, log zerolog.Logger) (*Monitor, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	return &Monitor{
		limits:  l,
		breaker: breaker,
		bus:     bus,
		log:     log.With().Str("component", "risk_monitor").Logger(),
	}, nil
}

// IsSafe is the O(1) gate every submission path consults before network I/O.
func (m *Monitor) IsSafe() bool {
	return m.breaker.IsSafe()
}

// Breaker exposes the shared circuit breaker.
func (m *Monitor) Breaker() *CircuitBreaker {
	return m.breaker
}

// Limits returns the configured hard limits.
func (m *Monitor) Limits() Limits {
	return m.limits
}

// OnAccountUpdate ingests one account tick, recomputes drawdown and
// leverage, engages the breaker on any breach, and returns the derived
// snapshot. Single writer: the whole update runs in one critical section.
func (m *Monitor) OnAccountUpdate(balance, equity, exposure float64) AccountSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if equity > m.snap.PeakEquity {
		m.snap.PeakEquity = equity
	}
	m.snap.Balance = balance
	m.snap.Equity = equity
	m.snap.Exposure = exposure
	m.snap.UpdatedAt = time.Now()

	if m.snap.PeakEquity > 0 {
		m.snap.DrawdownPct = (m.snap.PeakEquity - equity) / m.snap.PeakEquity * 100
	} else {
		m.snap.DrawdownPct = 0
	}
	if balance > 0 {
		m.snap.Leverage = exposure / balance
	} else if exposure > 0 && m.limits.FailSafeMode {
		// Exposure with no balance cannot be assessed; fail safe.
		m.engageLocked("leverage unmeasurable: positive exposure with zero balance", nil)
		m.snap.Alert = AlertCritical
		return m.snap
	}

	m.evaluateLocked()
	return m.snap
}

// OnPositionUpdate checks one position's notional against the
// single-position hard limit.
func (m *Monitor) OnPositionUpdate(symbol string, notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if notional > m.limits.MaxPositionSize {
		m.engageLocked(
			fmt.Sprintf("position size limit breached: %s notional %.2f > %.2f",
				symbol, notional, m.limits.MaxPositionSize),
			map[string]string{"symbol": symbol},
		)
		m.snap.Alert = AlertCritical
	}
}

// evaluateLocked compares the fresh snapshot to every hard limit and derives
// the alert level.
func (m *Monitor) evaluateLocked() {
	switch {
	case m.snap.DrawdownPct > m.limits.MaxDrawdownPct:
		m.engageLocked(
			fmt.Sprintf("drawdown limit breached: %.2f%% > %.2f%%",
				m.snap.DrawdownPct, m.limits.MaxDrawdownPct),
			map[string]string{"metric": "drawdown"},
		)
		m.setAlertLocked(AlertCritical, "drawdown limit breached")
	case m.snap.Leverage > m.limits.MaxLeverage:
		m.engageLocked(
			fmt.Sprintf("leverage limit breached: %.2fx > %.2fx",
				m.snap.Leverage, m.limits.MaxLeverage),
			map[string]string{"metric": "leverage"},
		)
		m.setAlertLocked(AlertCritical, "leverage limit breached")
	case m.snap.Exposure > m.limits.MaxExposure:
		m.engageLocked(
			fmt.Sprintf("exposure limit breached: %.2f > %.2f",
				m.snap.Exposure, m.limits.MaxExposure),
			map[string]string{"metric": "exposure"},
		)
		m.setAlertLocked(AlertCritical, "exposure limit breached")
	case m.snap.DrawdownPct > m.limits.MaxDrawdownPct*warningRatio:
		m.setAlertLocked(AlertWarning, "drawdown approaching limit")
	case m.snap.Leverage > m.limits.MaxLeverage*warningRatio:
		m.setAlertLocked(AlertWarning, "leverage approaching limit")
	case m.snap.Exposure > m.limits.MaxExposure*warningRatio:
		m.setAlertLocked(AlertWarning, "exposure approaching limit")
	default:
		m.setAlertLocked(AlertNormal, "")
	}
}

func (m *Monitor) engageLocked(reason string, meta map[string]string) {
	m.breaker.Engage(reason, meta)
}

// setAlertLocked escalates or clears the alert level, publishing a
// structured event on every change.
func (m *Monitor) setAlertLocked(level AlertLevel, reason string) {
	if m.snap.Alert == level {
		return
	}
	m.snap.Alert = level
	alert := Alert{Level: level, Reason: reason, Snapshot: m.snap, At: time.Now()}
	m.log.Warn().Str("level", string(level)).Str("reason", reason).
		Float64("drawdown_pct", m.snap.DrawdownPct).
		Float64("leverage", m.snap.Leverage).
		Msg("risk alert level changed")
	if m.bus != nil {
		m.bus.Publish(events.EventRiskAlert, alert)
	}
}

// Snapshot returns the latest derived account snapshot.
func (m *Monitor) Snapshot() AccountSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// ValidateNotional pre-checks a new order's notional against the
// single-position limit. Rejected synchronously, before any I/O.
func (m *Monitor) ValidateNotional(notional float64) error {
	if notional > m.limits.MaxPositionSize {
		return fmt.Errorf("order notional %.2f exceeds position size limit %.2f",
			notional, m.limits.MaxPositionSize)
	}
	return nil
}
