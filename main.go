package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"execution-core/internal/api"
	"execution-core/internal/dispatch"
	"execution-core/internal/events"
	"execution-core/internal/gateway"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := newLogger(cfg)

	tracks, err := config.LoadTracks(cfg.TracksPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TracksPath).Msg("tracks config load failed")
	}

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("audit store open failed")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	link := gateway.NewClient(gateway.Config{
		Addr:        cfg.GatewayAddr,
		DialTimeout: cfg.DialTimeout,
		MaxRebuilds: cfg.MaxRebuilds,
	}, log)
	link.OnStateChange(func(from, to gateway.State, reason string) {
		bus.Publish(events.EventLinkStateChange, map[string]string{
			"from": string(from), "to": string(to), "reason": reason,
		})
	})
	if err := link.Connect(ctx); err != nil {
		// Not fatal: the heartbeat keeps probing and the breaker guards
		// submissions until the link comes up.
		log.Error().Err(err).Str("addr", cfg.GatewayAddr).Msg("initial gateway connect failed")
	}

	breaker := risk.NewCircuitBreaker(bus, log)
	riskMon, err := risk.NewMonitor(risk.Limits{
		MaxDrawdownPct:  tracks.Risk.MaxDrawdownPct,
		MaxLeverage:     tracks.Risk.MaxLeverage,
		MaxPositionSize: tracks.Risk.MaxPositionSize,
		MaxExposure:     tracks.Risk.MaxExposure,
		FailSafeMode:    tracks.Risk.FailSafeMode,
	}, breaker, bus, log)
	if err != nil {
		log.Fatal().Err(err).Msg("risk monitor init failed")
	}

	executor := order.NewExecutor(link, cfg.RequestTimeout, bus, log)
	audit := persistence.NewBatchAuditor(store, cfg.AuditBatchSize, cfg.AuditFlushInterval, log)
	dispatcher, err := dispatch.NewDispatcher(tracks, riskMon, executor, audit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("dispatcher init failed")
	}

	// A dead link means unknown order outcomes; halt trading until an
	// operator confirms the gateway state.
	hb := monitor.NewHeartbeat(link, cfg.HeartbeatInterval, cfg.HeartbeatThreshold, bus, log)
	hb.OnUnhealthy(func(reason string) {
		breaker.Engage(reason, map[string]string{"source": "heartbeat"})
	})
	hb.Start()

	go persistBreakerEvents(ctx, bus, store, log)
	go pollAccount(ctx, link, riskMon, cfg.AccountPollInterval, cfg.RequestTimeout, log)

	recon := reconciliation.NewService(link, store, breaker, bus, cfg.ReconInterval, cfg.ReconMaxPending, log)
	recon.Start(ctx)

	server := api.NewServer(dispatcher, riskMon, hb, link, store, bus, cfg.JWTSecret, log)
	server.Recon = recon
	server.Audit = audit
	go func() {
		if err := server.Start(cfg.APIAddr); err != nil {
			log.Error().Err(err).Msg("api server stopped")
			cancel()
		}
	}()

	log.Info().
		Str("gateway", cfg.GatewayAddr).
		Str("api", cfg.APIAddr).
		Int("tracks", len(tracks.Tracks)).
		Msg("execution core running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	// Stop intake, drain in-flight track work, then tear the link down.
	cancel()
	dispatcher.ShutdownAll()
	hb.Stop()
	_ = audit.Close()
	link.Disconnect()
	log.Info().Msg("execution core stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg.LogJSON {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
}

// persistBreakerEvents records every breaker transition in the audit store.
func persistBreakerEvents(ctx context.Context, bus *events.Bus, store *db.Store, log zerolog.Logger) {
	engaged, unsubEngaged := bus.Subscribe(events.EventBreakerEngaged, 16)
	cleared, unsubCleared := bus.Subscribe(events.EventBreakerCleared, 16)
	defer unsubEngaged()
	defer unsubCleared()

	record := func(payload any) {
		state, ok := payload.(risk.BreakerState)
		if !ok {
			return
		}
		if err := store.RecordBreakerEvent(ctx, state); err != nil {
			log.Error().Err(err).Msg("failed to persist breaker event")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-engaged:
			if !ok {
				return
			}
			record(p)
		case p, ok := <-cleared:
			if !ok {
				return
			}
			record(p)
		}
	}
}

// pollAccount refreshes the account snapshot and open positions from the
// gateway on a fixed interval, feeding the risk monitor.
func pollAccount(ctx context.Context, link *gateway.Client, riskMon *risk.Monitor, interval, timeout time.Duration, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		acct, err := link.GetAccount(ctx, timeout)
		if err != nil {
			log.Debug().Err(err).Msg("account poll failed")
			continue
		}
		riskMon.OnAccountUpdate(acct.Balance, acct.Equity, acct.Exposure)

		positions, err := link.GetPositions(ctx, timeout)
		if err != nil {
			log.Debug().Err(err).Msg("positions poll failed")
			continue
		}
		for _, p := range positions {
			riskMon.OnPositionUpdate(p.Symbol, p.Notional)
		}
	}
}
