// Package reconciliation runs the inquiry loop for orders whose outcome is
// unknown: it periodically compares the ambiguous backlog in the audit store
// against the gateway's live positions and halts trading when the backlog
// grows past its bound.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

// PositionSource is the gateway surface the reconciler queries.
type PositionSource interface {
	GetPositions(ctx context.Context, timeout time.Duration) ([]gateway.Position, error)
}

// Backlog is the audit-store surface listing unresolved orders.
type Backlog interface {
	AmbiguousOrders(ctx context.Context) ([]db.OrderRecord, error)
}

// SymbolExposure pairs one ambiguous order's symbol with the gateway's open
// volume on it, so an operator can see at a glance whether the lost
// acknowledgement likely filled.
type SymbolExposure struct {
	Symbol        string  `json:"symbol"`
	PendingQty    float64 `json:"pending_qty"`    // quantity awaiting inquiry
	GatewayVolume float64 `json:"gateway_volume"` // open volume the gateway reports
}

// Report is one reconciliation pass.
type Report struct {
	At             time.Time        `json:"at"`
	PendingInquiry int              `json:"pending_inquiry"`
	Exposures      []SymbolExposure `json:"exposures,omitempty"`
	Halted         bool             `json:"halted"`
}

// Service runs the periodic inquiry pass.
type Service struct {
	positions PositionSource
	backlog   Backlog
	breaker   *risk.CircuitBreaker
	bus       *events.Bus

	interval   time.Duration
	maxPending int // backlog size that halts trading
	timeout    time.Duration

	mu   sync.Mutex
	last Report

	log zerolog.Logger
}

// NewService builds a reconciler. maxPending bounds the unresolved backlog;
// once exceeded the circuit breaker engages, because every further submission
// adds to a position the system can no longer account for.
func NewService(positions PositionSource, backlog Backlog, breaker *risk.CircuitBreaker, bus *events.Bus, interval time.Duration, maxPending int, log zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	if maxPending <= 0 {
		maxPending = 10
	}
	return &Service{
		positions:  positions,
		backlog:    backlog,
		breaker:    breaker,
		bus:        bus,
		interval:   interval,
		maxPending: maxPending,
		timeout:    10 * time.Second,
		log:        log.With().Str("component", "reconciliation").Logger(),
	}
}

// Start launches the periodic pass; it exits when ctx is done.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Reconcile(ctx); err != nil {
					s.log.Error().Err(err).Msg("reconciliation pass failed")
				}
			}
		}
	}()
	s.log.Info().Dur("interval", s.interval).Int("max_pending", s.maxPending).
		Msg("reconciliation service started")
}

// Reconcile runs one inquiry pass and returns its report.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	pending, err := s.backlog.AmbiguousOrders(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{At: time.Now(), PendingInquiry: len(pending)}

	if len(pending) > 0 {
		// Fold the backlog by symbol and annotate with what the gateway
		// actually holds.
		qtyBySymbol := make(map[string]float64)
		for _, rec := range pending {
			qtyBySymbol[rec.Symbol] += rec.Quantity
		}
		volBySymbol := make(map[string]float64)
		if positions, err := s.positions.GetPositions(ctx, s.timeout); err != nil {
			s.log.Warn().Err(err).Msg("could not fetch gateway positions for inquiry")
		} else {
			for _, p := range positions {
				volBySymbol[p.Symbol] += p.Volume
			}
		}
		for symbol, qty := range qtyBySymbol {
			report.Exposures = append(report.Exposures, SymbolExposure{
				Symbol:        symbol,
				PendingQty:    qty,
				GatewayVolume: volBySymbol[symbol],
			})
		}

		s.log.Warn().Int("pending_inquiry", len(pending)).
			Msg("unresolved order outcomes awaiting inquiry")
	}

	if len(pending) > s.maxPending {
		report.Halted = true
		s.breaker.Engage(
			"unresolved order backlog exceeds bound: further fills cannot be accounted for",
			map[string]string{"source": "reconciliation"},
		)
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(events.EventReconReport, report)
	}
	return report, nil
}

// LastReport returns the most recent pass, for the operator API.
func (s *Service) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
