// internal/monitor/monitor.go
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/solmirror/mirror-bot/internal/config"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// State is the connection state of a monitor.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ErrMaxReconnects is returned after reconnection attempts are exhausted.
var ErrMaxReconnects = errors.New("monitor: max reconnect attempts exhausted")

const (
	defaultPingInterval     = 15 * time.Second
	defaultReadTimeout      = 60 * time.Second
	defaultMaxReconnects    = 10
	defaultMaxReconnectWait = 30 * time.Second
	eventBufferSize         = 256
)

// Monitor produces a stream of raw transactions that mention the target
// wallet. Implementations differ only in transport and subscription wiring.
type Monitor interface {
	// Connect starts the monitor. It returns once the first connection
	// attempt resolves; streaming continues in the background until the
	// context is cancelled or Disconnect is called.
	Connect(ctx context.Context) error
	// Events is the outbound stream. Closed when the monitor stops.
	Events() <-chan types.RawTransaction
	// Disconnect stops the monitor and closes its network handle.
	Disconnect()
}

// New selects the monitor variant from configuration. Variants are never
// mixed at runtime. reconnects may be nil; the polling variant has no
// connection to lose and never touches it.
func New(cfg *config.Config, rpcClient *rpc.Client, reconnects prometheus.Counter, logger *zap.Logger) (Monitor, error) {
	target, err := solana.PublicKeyFromBase58(cfg.TargetWallet)
	if err != nil {
		return nil, fmt.Errorf("invalid target wallet: %w", err)
	}

	switch cfg.Monitor {
	case "stream":
		m := NewStreamMonitor(cfg.StreamURL, cfg.StreamAPIKey, target, logger)
		m.reconnects = reconnects
		return m, nil
	case "logs":
		m := NewLogsMonitor(cfg.WebSocketURL, target, rpcClient, logger)
		m.reconnects = reconnects
		return m, nil
	case "poll":
		interval := time.Duration(cfg.PollInterval) * time.Millisecond
		return NewPollingMonitor(target, rpcClient, interval, logger), nil
	default:
		return nil, fmt.Errorf("unknown monitor variant %q", cfg.Monitor)
	}
}

// baseMonitor carries the machinery shared by all variants: the state
// machine, the dedup set, backfill filtering and the outbound channel.
type baseMonitor struct {
	target     solana.PublicKey
	logger     *zap.Logger
	events     chan types.RawTransaction
	seen       *SeenSet
	startTime  time.Time
	state      atomic.Int32
	reconnects prometheus.Counter // nil when metrics are not wired

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newBaseMonitor(target solana.PublicKey, logger *zap.Logger) baseMonitor {
	return baseMonitor{
		target:    target,
		logger:    logger,
		events:    make(chan types.RawTransaction, eventBufferSize),
		seen:      NewSeenSet(DefaultSeenCapacity),
		startTime: time.Now(),
	}
}

func (b *baseMonitor) Events() <-chan types.RawTransaction {
	return b.events
}

func (b *baseMonitor) setState(s State) {
	old := State(b.state.Swap(int32(s)))
	if old != s {
		b.logger.Debug("Monitor state changed",
			zap.String("from", old.String()),
			zap.String("to", s.String()))
	}
}

func (b *baseMonitor) currentState() State {
	return State(b.state.Load())
}

// countReconnect bumps the reconnect counter when one is wired.
func (b *baseMonitor) countReconnect() {
	if b.reconnects != nil {
		b.reconnects.Inc()
	}
}

// emit forwards one raw transaction downstream, applying the dedup set and
// discarding historical backfill that predates process start.
func (b *baseMonitor) emit(ctx context.Context, raw types.RawTransaction) {
	if !raw.BlockTime.IsZero() && raw.BlockTime.Before(b.startTime) {
		b.logger.Debug("Discarding historical transaction",
			zap.String("signature", raw.Signature),
			zap.Time("block_time", raw.BlockTime))
		return
	}
	if !b.seen.Add(raw.Signature) {
		b.logger.Debug("Duplicate transaction skipped",
			zap.String("signature", raw.Signature))
		return
	}
	select {
	case b.events <- raw:
	case <-ctx.Done():
	}
}

func (b *baseMonitor) closeEvents() {
	b.closeOnce.Do(func() {
		close(b.events)
	})
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(current, cap time.Duration) time.Duration {
	next := current * 2
	if next > cap {
		next = cap
	}
	return next
}
