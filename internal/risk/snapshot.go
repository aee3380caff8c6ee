package risk

import "time"

// AlertLevel escalates NORMAL -> WARNING -> CRITICAL as account risk
// approaches and then breaches the configured limits.
type AlertLevel string

const (
	AlertNormal   AlertLevel = "NORMAL"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// AccountSnapshot is the live account state derived on every update and read
// by the risk monitor and the operator dashboard.
type AccountSnapshot struct {
	Balance     float64    `json:"balance"`
	Equity      float64    `json:"equity"`
	PeakEquity  float64    `json:"peak_equity"`
	Exposure    float64    `json:"exposure"`
	DrawdownPct float64    `json:"drawdown_pct"`
	Leverage    float64    `json:"leverage"`
	Alert       AlertLevel `json:"alert"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Alert is the structured payload published on every alert-level escalation.
type Alert struct {
	Level    AlertLevel      `json:"level"`
	Reason   string          `json:"reason"`
	Snapshot AccountSnapshot `json:"snapshot"`
	At       time.Time       `json:"at"`
}
