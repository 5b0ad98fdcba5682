// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solmirror/mirror-bot/internal/alerts"
	"github.com/solmirror/mirror-bot/internal/broadcast"
	"github.com/solmirror/mirror-bot/internal/config"
	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/executor"
	"github.com/solmirror/mirror-bot/internal/gate"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/metrics"
	"github.com/solmirror/mirror-bot/internal/monitor"
	"github.com/solmirror/mirror-bot/internal/parser"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const statsInterval = 10 * time.Second

// Orchestrator wires the pipeline together and owns its lifecycle. All
// position mutations happen on one goroutine; price refresh only ever calls
// UpdatePrice, which the ledger serializes internally.
type Orchestrator struct {
	cfg      *config.Config
	monitor  monitor.Monitor
	parser   *parser.Parser
	ledger   *ledger.Ledger
	executor *executor.Executor
	prices   *executor.PriceClient
	bus      *events.Bus
	hub      *broadcast.Hub // command source only; outbound frames go via the bus
	alerts   *alerts.Manager
	metrics  *metrics.Metrics
	logger   *zap.Logger

	paused  atomic.Bool
	stopped atomic.Bool

	mu              sync.RWMutex
	positionSizeSOL float64
	gateCfg         gate.Config
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Monitor  monitor.Monitor
	Parser   *parser.Parser
	Ledger   *ledger.Ledger
	Executor *executor.Executor
	Prices   *executor.PriceClient
	Bus      *events.Bus
	Hub      *broadcast.Hub
	Alerts   *alerts.Manager
	Metrics  *metrics.Metrics
}

// New assembles an orchestrator from configuration and collaborators.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		monitor:  deps.Monitor,
		parser:   deps.Parser,
		ledger:   deps.Ledger,
		executor: deps.Executor,
		prices:   deps.Prices,
		bus:      deps.Bus,
		hub:      deps.Hub,
		alerts:   deps.Alerts,
		metrics:  deps.Metrics,
		logger:   logger.Named("orchestrator"),

		positionSizeSOL: cfg.PositionSizeSOL,
		gateCfg: gate.Config{
			MinTradeSizeSOL: cfg.MinTradeSizeSOL,
			MaxPositions:    cfg.MaxPositions,
			MaxDailyLoss:    cfg.MaxDailyLoss,
			StartingBalance: cfg.StartingBalance,
		},
	}
}

// Run connects the monitor and drives the pipeline until the context ends or
// a component fails fatally.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.monitor.Connect(ctx); err != nil {
		return err
	}
	defer o.monitor.Disconnect()

	o.publish(events.NewMonitorStateEvent(true, o.cfg.Monitor))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.signalLoop(ctx) })
	g.Go(func() error { return o.priceLoop(ctx) })
	g.Go(func() error { return o.statsLoop(ctx) })

	err := g.Wait()
	o.publish(events.NewMonitorStateEvent(false, "shutdown"))
	return err
}

// signalLoop is the single writer of position state: monitor output and
// operator commands interleave on one goroutine, so every trade decision
// sees the ledger state left by the previous one.
func (o *Orchestrator) signalLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-o.monitor.Events():
			if !ok {
				o.logger.Warn("Monitor stream closed")
				return monitor.ErrMaxReconnects
			}
			o.handleTransaction(ctx, raw)
		case cmd := <-o.commandSource():
			o.handleCommand(ctx, cmd)
		}
	}
}

// priceLoop refreshes the SOL/USD rate and every open position's price. The
// interval stretches with the open-position count so a full book does not
// hammer the price endpoint.
func (o *Orchestrator) priceLoop(ctx context.Context) error {
	base := time.Duration(o.cfg.PriceDelay) * time.Millisecond
	timer := time.NewTimer(base)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		o.refreshPrices(ctx)

		interval := base
		if open := o.ledger.OpenCount(); open > 1 {
			interval = base * time.Duration(open)
		}
		timer.Reset(interval)
	}
}

// refreshPrices updates the SOL rate and all open positions in one batch.
func (o *Orchestrator) refreshPrices(ctx context.Context) {
	if solPrice, err := o.prices.SOLPriceUSD(ctx); err == nil {
		o.ledger.SetSOLPrice(solPrice)
		o.metrics.SOLPriceUSD.Set(solPrice)
	} else {
		o.logger.Warn("SOL price refresh failed", zap.Error(err))
	}

	tokens := o.ledger.Tokens()
	if len(tokens) == 0 {
		return
	}

	priced, err := o.prices.Prices(ctx, tokens)
	if err != nil {
		o.logger.Warn("Token price refresh failed", zap.Error(err))
		return
	}

	for _, token := range tokens {
		priceUSD, ok := priced[token]
		if !ok {
			continue
		}
		pos := o.ledger.UpdatePrice(token, priceUSD)
		if pos == nil {
			continue
		}
		o.publish(events.NewPositionUpdateEvent(pos))
	}
}

// statsLoop broadcasts a ledger summary on a fixed cadence.
func (o *Orchestrator) statsLoop(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := o.ledger.Stats()
			o.metrics.OpenPositions.Set(float64(stats.OpenPositions))
			o.metrics.DailyPnLSOL.Set(stats.DailyPnL)
			if o.hub != nil {
				o.metrics.WSClients.Set(float64(o.hub.ClientCount()))
			}
			o.publish(events.NewStatsUpdateEvent(stats))
		}
	}
}

// commandSource returns the operator command channel. A nil channel blocks
// forever in select, which is exactly right when no hub is attached.
func (o *Orchestrator) commandSource() <-chan types.Command {
	if o.hub != nil {
		return o.hub.Commands()
	}
	return nil
}

// publish hands an event to the bus; the dashboard, alerting and persistence
// subscribers fan it out from there.
func (o *Orchestrator) publish(ev events.Event) {
	if err := o.bus.Publish(ev); err != nil {
		o.logger.Debug("Event dropped", zap.String("type", string(ev.Type())))
	}
}

// positionSize returns the current per-trade SOL size.
func (o *Orchestrator) positionSize() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.positionSizeSOL
}

// gateConfig returns a copy of the current gate thresholds.
func (o *Orchestrator) gateConfig() gate.Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.gateCfg
}
