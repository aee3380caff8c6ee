package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/limits"
)

var ErrNotEngaged = errors.New("circuit breaker is not engaged")

// BreakerState is a point-in-time view of the breaker for dashboards and
// audit.
type BreakerState struct {
	Engaged     bool              `json:"engaged"`
	Reason      string            `json:"reason,omitempty"`
	EngagedAt   time.Time         `json:"engaged_at,omitempty"`
	ClearedBy   string            `json:"cleared_by,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Engagements int               `json:"engagements"`
}

// CircuitBreaker is the process-wide kill switch. Engaging latches: a
// subsequent good tick never clears it, only an explicit audited Disengage
// does. IsSafe is an O(1) atomic read so every submission path can afford to
// consult it before any network I/O.
type CircuitBreaker struct {
	engaged limits.Flag

	mu          sync.Mutex
	reason      string
	engagedAt   time.Time
	clearedBy   string
	metadata    map[string]string
	engagements int

	bus *events.Bus
	log zerolog.Logger
}

// NewCircuitBreaker starts in the SAFE state.
func NewCircuitBreaker(bus *events.Bus, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		bus: bus,
		log: log.With().Str("component", "circuit_breaker").Logger(),
	}
}

// IsSafe reports whether trading is allowed. Hard gate, not a courtesy
// check: callers must reject before any network attempt when false.
func (cb *CircuitBreaker) IsSafe() bool {
	return !cb.engaged.IsSet()
}

// Engage trips the breaker with a structured reason. Latching: repeated
// engagements only update the diagnostic metadata of the first.
func (cb *CircuitBreaker) Engage(reason string, metadata map[string]string) {
	first := cb.engaged.Set()

	cb.mu.Lock()
	if first {
		cb.reason = reason
		cb.engagedAt = time.Now()
		cb.metadata = metadata
		cb.clearedBy = ""
	}
	cb.engagements++
	state := cb.stateLocked()
	cb.mu.Unlock()

	if first {
		cb.log.Error().Str("reason", reason).Fields(map[string]any{"metadata": metadata}).
			Msg("CIRCUIT BREAKER ENGAGED - all trading halted")
		if cb.bus != nil {
			cb.bus.Publish(events.EventBreakerEngaged, state)
		}
	} else {
		cb.log.Warn().Str("reason", reason).Msg("breach while breaker already engaged")
	}
}

// Disengage clears the breaker. Only this explicit call returns the system
// to SAFE; the operator identity is recorded for audit.
func (cb *CircuitBreaker) Disengage(operator string) error {
	if !cb.engaged.Clear() {
		return ErrNotEngaged
	}

	cb.mu.Lock()
	cb.clearedBy = operator
	prevReason := cb.reason
	cb.reason = ""
	cb.metadata = nil
	state := cb.stateLocked()
	cb.mu.Unlock()

	cb.log.Warn().Str("operator", operator).Str("previous_reason", prevReason).
		Msg("circuit breaker disengaged")
	if cb.bus != nil {
		cb.bus.Publish(events.EventBreakerCleared, state)
	}
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() BreakerState {
	meta := make(map[string]string, len(cb.metadata))
	for k, v := range cb.metadata {
		meta[k] = v
	}
	return BreakerState{
		Engaged:     cb.engaged.IsSet(),
		Reason:      cb.reason,
		EngagedAt:   cb.engagedAt,
		ClearedBy:   cb.clearedBy,
		Metadata:    meta,
		Engagements: cb.engagements,
	}
}
