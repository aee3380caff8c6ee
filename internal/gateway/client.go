package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateFailed       State = "FAILED" // reconnect budget exhausted, operator action required
)

var (
	ErrNotConnected = errors.New("gateway link not connected")
	ErrNoResponse   = errors.New("no response from gateway")
	ErrLinkFailed   = errors.New("gateway link failed, operator action required")
	ErrHandshake    = errors.New("gateway handshake failed")
)

// Config holds transport settings, validated via withDefaults.
type Config struct {
	Addr             string
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxRebuilds      int // consecutive failed rebuilds before FAILED
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 3 * time.Second
	}
	if c.MaxRebuilds <= 0 {
		c.MaxRebuilds = 3
	}
	return c
}

// Client maintains one logical request/response channel to the gateway.
// The protocol has no pipelining: a second request may not be written before
// the matching reply is consumed, so every socket operation is serialized
// through one exclusive lock and concurrent senders queue.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu           sync.Mutex
	conn         net.Conn
	dec          *json.Decoder
	state        State
	rebuildFails int
	lastActive   time.Time

	onState func(from, to State, reason string)
}

// NewClient builds a disconnected client; call Connect before use.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		cfg:   cfg.withDefaults(),
		log:   log.With().Str("component", "gateway").Logger(),
		state: StateDisconnected,
	}
}

// OnStateChange registers a hook invoked (under the client lock) on every
// connection state transition.
func (c *Client) OnStateChange(fn func(from, to State, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *Client) setStateLocked(next State, reason string) {
	if c.state == next {
		return
	}
	prev := c.state
	c.state = next
	c.log.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("reason", reason).
		Msg("connection state changed")
	if c.onState != nil {
		c.onState(prev, next, reason)
	}
}

// Connect dials the gateway and issues a PING handshake. The link is
// CONNECTED only after a matching pong; otherwise it stays DISCONNECTED.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		return nil
	}
	if err := c.dialLocked(ctx); err != nil {
		c.setStateLocked(StateDisconnected, fmt.Sprintf("connect failed: %v", err))
		return err
	}
	c.rebuildFails = 0
	c.setStateLocked(StateConnected, "handshake ok")
	return nil
}

// dialLocked opens the socket and runs the handshake probe.
func (c *Client) dialLocked(ctx context.Context) error {
	c.closeLocked()

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}
	c.conn = conn
	c.dec = json.NewDecoder(conn)

	probe := NewRequest(ActionPing, uuid.NewString())
	reply, err := c.roundTripLocked(probe, c.cfg.HandshakeTimeout)
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if reply.Status != StatusPong {
		c.closeLocked()
		return fmt.Errorf("%w: unexpected handshake reply %q", ErrHandshake, reply.Status)
	}
	c.lastActive = time.Now()
	return nil
}

// roundTripLocked writes one request and reads exactly one reply within
// timeout. Callers hold c.mu.
func (c *Client) roundTripLocked(req Request, timeout time.Duration) (*Reply, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	deadline := time.Now().Add(timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.conn.Write(append(payload, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	var reply Reply
	if err := c.dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return &reply, nil
}

// Do sends one request and awaits its reply. On timeout or protocol error it
// must not retry on the same socket: the dead request/reply pair would
// corrupt the stream. Instead the socket is destroyed and rebuilt against
// the same address (RECONNECTING) before ErrNoResponse is reported.
func (c *Client) Do(ctx context.Context, req Request, timeout time.Duration) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateFailed:
		return nil, ErrLinkFailed
	case StateConnected:
	case StateDisconnected:
		// Try to restore the link before refusing; consecutive failures
		// here burn the same rebuild budget as in-flight rebuilds.
		c.setStateLocked(StateReconnecting, "reconnect before request")
		if err := c.dialLocked(ctx); err != nil {
			c.rebuildFails++
			if c.rebuildFails >= c.cfg.MaxRebuilds {
				c.setStateLocked(StateFailed, "reconnect budget exhausted")
				return nil, ErrLinkFailed
			}
			c.setStateLocked(StateDisconnected, "reconnect failed")
			return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		c.rebuildFails = 0
		c.setStateLocked(StateConnected, "socket rebuilt")
	default:
		return nil, ErrNotConnected
	}

	reply, err := c.roundTripLocked(req, timeout)
	if err != nil {
		c.rebuildLocked(ctx, err)
		return nil, fmt.Errorf("%w: %v", ErrNoResponse, err)
	}
	c.lastActive = time.Now()
	return reply, nil
}

// rebuildLocked tears down the corrupted socket and attempts one rebuild.
// Success restores CONNECTED for the next request; failure leaves the link
// DISCONNECTED, or FAILED once the rebuild budget is exhausted.
func (c *Client) rebuildLocked(ctx context.Context, cause error) {
	c.setStateLocked(StateReconnecting, fmt.Sprintf("request failed: %v", cause))
	if err := c.dialLocked(ctx); err != nil {
		c.rebuildFails++
		c.log.Error().Err(err).Int("consecutive_failures", c.rebuildFails).Msg("socket rebuild failed")
		if c.rebuildFails >= c.cfg.MaxRebuilds {
			c.setStateLocked(StateFailed, "reconnect budget exhausted")
			return
		}
		c.setStateLocked(StateDisconnected, "rebuild failed")
		return
	}
	c.rebuildFails = 0
	c.setStateLocked(StateConnected, "socket rebuilt")
}

// Ping probes the link and returns the round-trip latency.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	reply, err := c.Do(ctx, NewRequest(ActionPing, uuid.NewString()), c.cfg.HandshakeTimeout)
	if err != nil {
		return 0, err
	}
	if reply.Status != StatusPong {
		return 0, fmt.Errorf("unexpected ping reply %q", reply.Status)
	}
	return time.Since(start), nil
}

// GetAccount fetches the live account state.
func (c *Client) GetAccount(ctx context.Context, timeout time.Duration) (*Account, error) {
	reply, err := c.Do(ctx, NewRequest(ActionGetAccount, uuid.NewString()), timeout)
	if err != nil {
		return nil, err
	}
	if reply.Account == nil {
		return nil, fmt.Errorf("gateway returned no account data (status=%s)", reply.Status)
	}
	return reply.Account, nil
}

// GetPositions fetches the open positions.
func (c *Client) GetPositions(ctx context.Context, timeout time.Duration) ([]Position, error) {
	reply, err := c.Do(ctx, NewRequest(ActionGetPositions, uuid.NewString()), timeout)
	if err != nil {
		return nil, err
	}
	return reply.Positions, nil
}

// Disconnect closes the socket and releases transport resources. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	if c.state != StateFailed {
		c.setStateLocked(StateDisconnected, "disconnect requested")
	}
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.dec = nil
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive returns the time of the last successful round trip. The
// heartbeat monitor uses it to probe only after idle time.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}
