package order

import (
	"fmt"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusExecuted   Status = "EXECUTED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusRejected   Status = "REJECTED"
)

// transitions is the only legal edge set. Statuses absent from the map are
// terminal.
var transitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusRejected},
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusExecuted, StatusFailed},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s -> next is a legal edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the order to next, failing with a validation error and
// leaving the status untouched when the edge is illegal.
func (o *Order) Transition(next Status) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("%w: illegal status transition %s -> %s for order %s",
			ErrValidation, o.Status, next, o.ID)
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	return nil
}
