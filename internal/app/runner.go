// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/solmirror/mirror-bot/internal/alerts"
	"github.com/solmirror/mirror-bot/internal/broadcast"
	"github.com/solmirror/mirror-bot/internal/config"
	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/executor"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/logger"
	"github.com/solmirror/mirror-bot/internal/metrics"
	"github.com/solmirror/mirror-bot/internal/monitor"
	"github.com/solmirror/mirror-bot/internal/orchestrator"
	"github.com/solmirror/mirror-bot/internal/parser"
	"github.com/solmirror/mirror-bot/internal/registry"
	"github.com/solmirror/mirror-bot/internal/storage"
	"github.com/solmirror/mirror-bot/internal/storage/postgres"
	"github.com/solmirror/mirror-bot/internal/wallet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner assembles the bot from configuration and owns its lifecycle.
type Runner struct {
	cfg        *config.Config
	log        *logger.Logger
	shutdownCh chan os.Signal
}

// NewRunner creates a runner.
func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		log:        log,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Run builds every component, starts the pipeline and blocks until a signal
// or fatal error stops it.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-r.shutdownCh:
			r.log.Info("Signal received, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	rpcClient := rpc.New(r.cfg.RPCList[0])

	var signer *wallet.Wallet
	if !r.cfg.PaperTrading {
		w, err := wallet.New(r.cfg.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to load wallet: %w", err)
		}
		signer = w
		r.log.Info("Wallet loaded", zap.String("pubkey", w.String()))
	} else {
		r.log.Info("Paper trading mode, no wallet loaded")
	}

	instruments := metrics.New()

	mon, err := monitor.New(r.cfg, rpcClient, instruments.Reconnects, r.log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	prices := executor.NewPriceClient(r.cfg.PriceAPIURL, r.log.Logger)
	solPrice := r.initialSOLPrice(ctx, prices)

	led := ledger.New(solPrice, r.cfg.MaxPnLPercent, r.log.Logger)
	exec := executor.New(
		executor.Config{
			PaperTrading: r.cfg.PaperTrading,
			SlippageBps:  r.cfg.SlippageBps,
			AntiMEV:      r.cfg.AntiMEV,
		},
		signer, rpcClient,
		executor.NewQuoteClient(r.cfg.QuoteAPIURL, r.log.Logger),
		executor.NewProber(r.cfg.SubmissionEndpoints, r.log.Logger),
		executor.NewFeeOracle(r.cfg.TipFloorURL, r.cfg.PriorityFeeSOL, r.log.Logger),
		r.log.Logger)

	bus := events.NewBus(r.log.Logger, 256)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = bus.Shutdown(shutdownCtx)
	}()

	hub := broadcast.NewHub(r.log.Logger)

	alertManager := alerts.New(alerts.DefaultConfig(), r.log.Logger)
	if webhook := alerts.NewWebhook(r.cfg.WebhookURL, r.log.Logger); webhook != nil {
		alertManager.AddHandler(webhook.Handler())
	}

	var store storage.Store
	if r.cfg.PostgresURL != "" {
		pg, err := postgres.Connect(ctx, r.cfg.PostgresURL, r.log.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect storage: %w", err)
		}
		defer pg.Close()
		store = pg
	}

	wireSubscribers(bus, hub, store, alertManager, r.log.Logger)

	p := parser.New(registry.New(), parser.NewHoldings(r.log.Logger), r.cfg.TargetWallet, r.log.Logger)
	r.seedHoldings(ctx, p, rpcClient)

	orch := orchestrator.New(r.cfg, orchestrator.Deps{
		Monitor:  mon,
		Parser:   p,
		Ledger:   led,
		Executor: exec,
		Prices:   prices,
		Bus:      bus,
		Hub:      hub,
		Alerts:   alertManager,
		Metrics:  instruments,
	}, r.log.Logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return r.serveHTTP(ctx, hub, instruments)
	})
	g.Go(func() error {
		return orch.Run(ctx)
	})

	r.log.Info("Mirror bot started",
		zap.String("target_wallet", r.cfg.TargetWallet),
		zap.String("monitor", r.cfg.Monitor),
		zap.Bool("paper_trading", r.cfg.PaperTrading))

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// seedHoldings loads the target wallet's current token balances so the first
// observed sell of a position opened before startup computes the right exit
// fraction. Best effort: transaction pre-balances cover the gap on failure.
func (r *Runner) seedHoldings(ctx context.Context, p *parser.Parser, rpcClient *rpc.Client) {
	seedCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if _, err := p.Holdings().SeedWalletFromChain(seedCtx, rpcClient, r.cfg.TargetWallet); err != nil {
		r.log.Warn("Holdings seed failed, relying on transaction balances", zap.Error(err))
	}
}

// initialSOLPrice seeds the ledger's conversion rate before the first price
// refresh tick. A failure here is survivable; the refresher will retry.
func (r *Runner) initialSOLPrice(ctx context.Context, prices *executor.PriceClient) float64 {
	priceCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	price, err := prices.SOLPriceUSD(priceCtx)
	if err != nil {
		r.log.Warn("Initial SOL price fetch failed, USD figures delayed", zap.Error(err))
		return 0
	}
	r.log.Info("SOL price loaded", zap.Float64("usd", price))
	return price
}

// serveHTTP exposes the dashboard WebSocket, health and metrics endpoints.
func (r *Runner) serveHTTP(ctx context.Context, hub *broadcast.Hub, instruments *metrics.Metrics) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if r.cfg.MetricsAddr == "" {
		mux.Handle("/metrics", instruments.Handler())
	}

	server := &http.Server{Addr: r.cfg.ListenAddr, Handler: mux}

	var metricsServer *http.Server
	if r.cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", instruments.Handler())
		metricsServer = &http.Server{Addr: r.cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		r.log.Info("HTTP server listening", zap.String("addr", r.cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
