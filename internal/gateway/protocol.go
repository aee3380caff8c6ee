// Package gateway implements the JSON request/response client toward the
// remote execution gateway, including the connection state machine and the
// rebuild-on-timeout recovery path.
package gateway

import "time"

// Action selects the gateway operation.
type Action string

const (
	ActionOrderSend    Action = "ORDER_SEND"
	ActionPing         Action = "PING"
	ActionGetAccount   Action = "GET_ACCOUNT"
	ActionGetPositions Action = "GET_POSITIONS"
	ActionClose        Action = "CLOSE"
)

// Request is one wire message toward the gateway. RequestID is unique per
// attempt and doubles as the idempotency and audit key.
type Request struct {
	Action        Action  `json:"action"`
	RequestID     string  `json:"request_id"`
	Symbol        string  `json:"symbol,omitempty"`
	Volume        float64 `json:"volume,omitempty"`
	Type          string  `json:"type,omitempty"` // BUY / SELL for ORDER_SEND and CLOSE
	Price         float64 `json:"price,omitempty"`
	StopLoss      float64 `json:"sl,omitempty"`
	TakeProfit    float64 `json:"tp,omitempty"`
	Comment       string  `json:"comment,omitempty"`
	RiskSignature string  `json:"risk_signature,omitempty"`
	Ticket        string  `json:"ticket,omitempty"` // CLOSE target
	Timestamp     int64   `json:"timestamp"`
}

// Reply status values.
const (
	StatusDone     = "done"
	StatusRejected = "rejected"
	StatusPong     = "pong"
	StatusError    = "error"
)

// Reply is the single response the gateway sends for each request.
type Reply struct {
	Status    string     `json:"status"`
	Retcode   int        `json:"retcode,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Ticket    string     `json:"ticket,omitempty"`
	Deal      string     `json:"deal,omitempty"`
	Price     float64    `json:"price,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Message   string     `json:"message,omitempty"`
	Account   *Account   `json:"account,omitempty"`
	Positions []Position `json:"positions,omitempty"`
}

// Account is the gateway's view of the trading account.
type Account struct {
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Margin   float64 `json:"margin"`
	Exposure float64 `json:"exposure"`
}

// Position is one open position reported by the gateway.
type Position struct {
	Ticket   string  `json:"ticket"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Volume   float64 `json:"volume"`
	Price    float64 `json:"price"`
	Notional float64 `json:"notional"`
}

// NewRequest stamps an action + request id with the current time.
func NewRequest(action Action, requestID string) Request {
	return Request{
		Action:    action,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}
