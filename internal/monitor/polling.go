// internal/monitor/polling.go
package monitor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// pollSignatureLimit is how many recent signatures each poll requests.
const pollSignatureLimit = 25

// PollingMonitor is the REST fallback: timed getSignaturesForAddress polling.
// The first poll marks everything as seen without processing, so pre-existing
// history is never replayed as fresh signals.
type PollingMonitor struct {
	baseMonitor

	rpcClient *rpc.Client
	interval  time.Duration
	firstPoll bool
}

// NewPollingMonitor creates a polling monitor for the target wallet.
func NewPollingMonitor(target solana.PublicKey, rpcClient *rpc.Client, interval time.Duration, logger *zap.Logger) *PollingMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingMonitor{
		baseMonitor: newBaseMonitor(target, logger.Named("polling_monitor")),
		rpcClient:   rpcClient,
		interval:    interval,
		firstPoll:   true,
	}
}

// Connect starts the polling loop.
func (m *PollingMonitor) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.setState(StateConnecting)

	m.wg.Add(1)
	go m.run(runCtx)

	return nil
}

// Disconnect stops the polling loop.
func (m *PollingMonitor) Disconnect() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.setState(StateDisconnected)
}

func (m *PollingMonitor) run(ctx context.Context) {
	defer m.wg.Done()
	defer m.closeEvents()

	m.setState(StateStreaming)
	m.logger.Info("Polling for wallet transactions",
		zap.String("wallet", m.target.String()),
		zap.Duration("interval", m.interval))

	// Poll immediately so the mark-seen baseline is established before the
	// first tick.
	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *PollingMonitor) poll(ctx context.Context) {
	limit := pollSignatureLimit
	sigs, err := m.rpcClient.GetSignaturesForAddressWithOpts(ctx, m.target,
		&rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
	if err != nil {
		m.logger.Warn("Signature poll failed", zap.Error(err))
		return
	}

	if m.firstPoll {
		// Everything visible on the first poll is pre-existing history.
		for _, sig := range sigs {
			m.seen.Add(sig.Signature.String())
		}
		m.firstPoll = false
		m.logger.Info("Baseline established",
			zap.Int("existing_signatures", len(sigs)))
		return
	}

	// Results are newest-first; process oldest-first to preserve trade order.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		if sig.Err != nil {
			m.seen.Add(sig.Signature.String())
			continue
		}
		if m.seen.Contains(sig.Signature.String()) {
			continue
		}
		m.processSignature(ctx, sig.Signature)
	}
}

func (m *PollingMonitor) processSignature(ctx context.Context, sig solana.Signature) {
	fetchCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	// Confirmed signatures can briefly lack full transaction data; retry
	// with backoff before giving up on this cycle.
	raw, err := backoff.Retry(fetchCtx, func() (types.RawTransaction, error) {
		return fetchTransaction(fetchCtx, m.rpcClient, sig, "poll")
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(15*time.Second),
	)
	if err != nil {
		m.logger.Debug("Skipping transaction after retries",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return
	}
	m.emit(ctx, raw)
}
