package order

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy every submission failure falls into.
// Callers must handle KindAmbiguous distinctly: it means the fill status is
// unknown and a blind retry risks a duplicate position.
type ErrorKind string

const (
	KindValidation ErrorKind = "VALIDATION"         // malformed order, wrong track, config violation
	KindExhausted  ErrorKind = "RESOURCE_EXHAUSTED" // concurrency or rate limit hit; retryable later
	KindAmbiguous  ErrorKind = "AMBIGUOUS"          // transport failure, outcome unknown
	KindRejected   ErrorKind = "BROKER_REJECTED"    // resolved terminal "no" from the broker
	KindRiskHalted ErrorKind = "RISK_HALTED"        // circuit breaker engaged
)

// Sentinel errors for the synchronously handled kinds.
var (
	ErrValidation = errors.New("validation failed")
	ErrExhausted  = errors.New("resources exhausted")
	ErrRiskHalted = errors.New("trading halted by circuit breaker")
)

// AmbiguousError reports an order whose outcome could not be determined: the
// request may have executed even though the acknowledgement was lost. It
// carries enough context to drive the inquiry/reconciliation flow.
type AmbiguousError struct {
	RequestID string
	Symbol    string
	Quantity  float64
	Side      Side
	Cause     error
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("order outcome unknown (request_id=%s symbol=%s qty=%v side=%s): %v, manual inquiry required",
		e.RequestID, e.Symbol, e.Quantity, e.Side, e.Cause)
}

func (e *AmbiguousError) Unwrap() error { return e.Cause }

// KindOf classifies an error from the submission path. Unclassifiable errors
// map to KindAmbiguous: assuming failure is exactly the mistake this
// taxonomy exists to prevent.
func KindOf(err error) ErrorKind {
	var amb *AmbiguousError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &amb):
		return KindAmbiguous
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrExhausted):
		return KindExhausted
	case errors.Is(err, ErrRiskHalted):
		return KindRiskHalted
	case errors.Is(err, ErrBrokerRejected):
		return KindRejected
	default:
		return KindAmbiguous
	}
}

// ErrBrokerRejected marks a resolved rejection from the gateway.
var ErrBrokerRejected = errors.New("order rejected by broker")
