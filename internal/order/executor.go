package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/risk"
)

// Conn is the transport the executor submits through.
type Conn interface {
	Do(ctx context.Context, req gateway.Request, timeout time.Duration) (*gateway.Reply, error)
}

// Executor turns a validated order into exactly one of: confirmed fill,
// confirmed rejection, or unresolved-requires-inquiry. It never coerces an
// ambiguous network outcome into "assume failed": retrying a possibly-filled
// order doubles the position.
type Executor struct {
	conn    Conn
	timeout time.Duration
	bus     *events.Bus
	log     zerolog.Logger
}

// NewExecutor binds the executor to its transport. timeout bounds each
// gateway round trip.
func NewExecutor(conn Conn, timeout time.Duration, bus *events.Bus, log zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Executor{
		conn:    conn,
		timeout: timeout,
		bus:     bus,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// NewRequestID generates a fresh idempotency key. One per submission
// attempt, not per order, so retries are distinguishable in the audit trail.
func NewRequestID() string {
	return uuid.NewString()
}

// Execute submits the order over the transport and classifies the outcome.
// The order must be PROCESSING when it arrives here.
func (e *Executor) Execute(ctx context.Context, o *Order) (Result, error) {
	requestID := NewRequestID()
	sig := risk.Sign(o.ID, o.Symbol, string(o.Side), o.Quantity, o.Price)

	req := gateway.NewRequest(gateway.ActionOrderSend, requestID)
	req.Symbol = o.Symbol
	req.Volume = o.Quantity
	req.Type = string(o.Side)
	req.Price = o.Price
	req.StopLoss = o.StopLoss
	req.TakeProfit = o.TakeProfit
	req.RiskSignature = sig.Encode()
	// The comment carries the logical order id so the reconciliation path
	// can correlate attempts with orders on the broker side.
	req.Comment = "oid:" + o.ID

	e.publish(events.EventOrderSubmitted, o)
	e.log.Info().
		Str("order_id", o.ID).
		Str("request_id", requestID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Float64("quantity", o.Quantity).
		Msg("submitting order")

	reply, err := e.conn.Do(ctx, req, e.timeout)
	if err != nil {
		// No reply at all: the order may have filled even though the
		// acknowledgement was lost. Surface the distinct ambiguous kind.
		amb := &AmbiguousError{
			RequestID: requestID,
			Symbol:    o.Symbol,
			Quantity:  o.Quantity,
			Side:      o.Side,
			Cause:     err,
		}
		e.log.Error().Err(err).Str("order_id", o.ID).Str("request_id", requestID).
			Msg("order outcome unknown, inquiry required")
		res := Failed(o.ID, requestID, o.Status, KindAmbiguous, amb.Error())
		e.publish(events.EventOrderAmbiguous, res)
		return res, amb
	}

	return e.classify(o, requestID, reply), nil
}

// ClosePosition closes an existing broker position through the same
// idempotent path and outcome taxonomy as order submission.
func (e *Executor) ClosePosition(ctx context.Context, ticket, symbol string, volume float64, side Side) (Result, error) {
	requestID := NewRequestID()
	req := gateway.NewRequest(gateway.ActionClose, requestID)
	req.Ticket = ticket
	req.Symbol = symbol
	req.Volume = volume
	req.Type = string(side)

	reply, err := e.conn.Do(ctx, req, e.timeout)
	if err != nil {
		amb := &AmbiguousError{RequestID: requestID, Symbol: symbol, Quantity: volume, Side: side, Cause: err}
		res := Failed(ticket, requestID, StatusProcessing, KindAmbiguous, amb.Error())
		e.publish(events.EventOrderAmbiguous, res)
		return res, amb
	}
	switch reply.Status {
	case gateway.StatusDone:
		return Result{
			OrderID:   ticket,
			RequestID: requestID,
			Success:   true,
			Status:    StatusExecuted,
			Ticket:    firstNonEmpty(reply.Deal, reply.Ticket),
			FillPrice: reply.Price,
			Timestamp: time.Now(),
		}, nil
	case gateway.StatusRejected, gateway.StatusError:
		return Failed(ticket, requestID, StatusFailed, KindRejected,
			rejectionMessage(reply)), nil
	default:
		// Same rule as submission: a reply we cannot interpret means the
		// position may or may not be closed. Unknown, not rejected.
		amb := &AmbiguousError{
			RequestID: requestID,
			Symbol:    symbol,
			Quantity:  volume,
			Side:      side,
			Cause:     fmt.Errorf("uninterpretable gateway reply status %q", reply.Status),
		}
		res := Failed(ticket, requestID, StatusProcessing, KindAmbiguous, amb.Error())
		e.publish(events.EventOrderAmbiguous, res)
		return res, amb
	}
}

// classify maps the gateway reply onto the closed outcome set.
func (e *Executor) classify(o *Order, requestID string, reply *gateway.Reply) Result {
	switch reply.Status {
	case gateway.StatusDone:
		if err := o.Transition(StatusExecuted); err != nil {
			e.log.Error().Err(err).Str("order_id", o.ID).Msg("executed order in unexpected state")
		}
		res := Executed(o, requestID, firstNonEmpty(reply.Deal, reply.Ticket), reply.Price)
		e.log.Info().Str("order_id", o.ID).Str("ticket", res.Ticket).
			Float64("fill_price", res.FillPrice).Msg("order executed")
		e.publish(events.EventOrderExecuted, res)
		return res

	case gateway.StatusRejected, gateway.StatusError:
		// A rejection is a resolved, terminal "no" - safe, no retry.
		if err := o.Transition(StatusFailed); err != nil {
			e.log.Error().Err(err).Str("order_id", o.ID).Msg("rejected order in unexpected state")
		}
		res := Failed(o.ID, requestID, StatusFailed, KindRejected, rejectionMessage(reply))
		e.log.Warn().Str("order_id", o.ID).Str("message", res.Message).Msg("order rejected by broker")
		e.publish(events.EventOrderRejected, res)
		return res

	default:
		// A reply we cannot interpret is protocol corruption: the true
		// outcome is unknown, so it joins the ambiguous lane too.
		res := Failed(o.ID, requestID, o.Status, KindAmbiguous,
			fmt.Sprintf("uninterpretable gateway reply status %q", reply.Status))
		e.publish(events.EventOrderAmbiguous, res)
		return res
	}
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.bus != nil {
		e.bus.Publish(ev, payload)
	}
}

func rejectionMessage(reply *gateway.Reply) string {
	if reply.Message != "" {
		if reply.ErrorCode != "" {
			return reply.ErrorCode + ": " + reply.Message
		}
		return reply.Message
	}
	if reply.ErrorCode != "" {
		return reply.ErrorCode
	}
	return fmt.Sprintf("rejected with retcode %d", reply.Retcode)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
