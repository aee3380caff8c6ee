package order

import "time"

// Result is the outcome record of one order submission. Constructed once,
// never mutated; it outlives the order for audit.
type Result struct {
	OrderID       string        `json:"order_id"`
	RequestID     string        `json:"request_id,omitempty"`
	Success       bool          `json:"success"`
	Status        Status        `json:"status"`
	Message       string        `json:"message,omitempty"`
	Ticket        string        `json:"ticket,omitempty"`     // broker-assigned deal/ticket id
	FillPrice     float64       `json:"fill_price,omitempty"`
	Track         string        `json:"track,omitempty"`
	ExecutionTime time.Duration `json:"execution_time_ns"`
	ErrorKind     *ErrorKind    `json:"error_kind"` // nil on success
	Timestamp     time.Time     `json:"timestamp"`
}

// Executed builds a successful result with the broker ticket.
func Executed(o *Order, requestID, ticket string, fillPrice float64) Result {
	return Result{
		OrderID:   o.ID,
		RequestID: requestID,
		Success:   true,
		Status:    StatusExecuted,
		Ticket:    ticket,
		FillPrice: fillPrice,
		Timestamp: time.Now(),
	}
}

// Failed builds a terminal unsuccessful result for the given kind.
func Failed(orderID, requestID string, status Status, kind ErrorKind, message string) Result {
	k := kind
	return Result{
		OrderID:   orderID,
		RequestID: requestID,
		Success:   false,
		Status:    status,
		Message:   message,
		ErrorKind: &k,
		Timestamp: time.Now(),
	}
}
