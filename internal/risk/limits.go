// Package risk implements the last line of defense: the account risk
// monitor, the latching circuit breaker, and the risk signature attached to
// every outgoing order.
package risk

import "fmt"

// Limits are the hard thresholds the monitor enforces. Any breach engages
// the circuit breaker.
type Limits struct {
	MaxDrawdownPct  float64 `yaml:"max_drawdown_pct"`  // % decline of equity from its running peak
	MaxLeverage     float64 `yaml:"max_leverage"`      // exposure / balance
	MaxPositionSize float64 `yaml:"max_position_size"` // notional per position
	MaxExposure     float64 `yaml:"max_exposure"`      // aggregate notional
	FailSafeMode    bool    `yaml:"fail_safe_mode"`    // treat evaluation anomalies as breaches
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxDrawdownPct:  2.0,
		MaxLeverage:     5.0,
		MaxPositionSize: 100_000,
		MaxExposure:     500_000,
		FailSafeMode:    true,
	}
}

// Validate rejects non-positive thresholds at construction.
func (l Limits) Validate() error {
	if l.MaxDrawdownPct <= 0 {
		return fmt.Errorf("max_drawdown_pct must be positive, got %v", l.MaxDrawdownPct)
	}
	if l.MaxLeverage <= 0 {
		return fmt.Errorf("max_leverage must be positive, got %v", l.MaxLeverage)
	}
	if l.MaxPositionSize <= 0 {
		return fmt.Errorf("max_position_size must be positive, got %v", l.MaxPositionSize)
	}
	if l.MaxExposure <= 0 {
		return fmt.Errorf("max_exposure must be positive, got %v", l.MaxExposure)
	}
	return nil
}
