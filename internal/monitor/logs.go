// internal/monitor/logs.go
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"
)

// LogsMonitor is the legacy JSON-RPC variant: logsSubscribe with a mentions
// filter on the target wallet, full transactions fetched over HTTP RPC.
type LogsMonitor struct {
	baseMonitor

	wsURL     string
	rpcClient *rpc.Client

	clientMu sync.Mutex
	client   *ws.Client

	lastMessage atomic64Time

	pingInterval  time.Duration
	readTimeout   time.Duration
	maxReconnects int
	maxBackoff    time.Duration
}

// NewLogsMonitor creates a logs-subscription monitor for the target wallet.
func NewLogsMonitor(wsURL string, target solana.PublicKey, rpcClient *rpc.Client, logger *zap.Logger) *LogsMonitor {
	return &LogsMonitor{
		baseMonitor:   newBaseMonitor(target, logger.Named("logs_monitor")),
		wsURL:         wsURL,
		rpcClient:     rpcClient,
		pingInterval:  defaultPingInterval,
		readTimeout:   defaultReadTimeout,
		maxReconnects: defaultMaxReconnects,
		maxBackoff:    defaultMaxReconnectWait,
	}
}

// Connect establishes the subscription and starts the streaming loop.
func (m *LogsMonitor) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.setState(StateConnecting)
	sub, err := m.subscribe(runCtx)
	if err != nil {
		m.setState(StateDisconnected)
		cancel()
		return err
	}

	m.wg.Add(1)
	go m.run(runCtx, sub)

	return nil
}

// Disconnect stops the monitor and closes the WebSocket handle.
func (m *LogsMonitor) Disconnect() {
	if m.cancel != nil {
		m.cancel()
	}
	m.closeClient()
	m.wg.Wait()
	m.setState(StateDisconnected)
}

func (m *LogsMonitor) subscribe(ctx context.Context) (*ws.LogSubscription, error) {
	client, err := ws.Connect(ctx, m.wsURL)
	if err != nil {
		return nil, err
	}

	sub, err := client.LogsSubscribeMentions(m.target, rpc.CommitmentConfirmed)
	if err != nil {
		client.Close()
		return nil, err
	}

	m.clientMu.Lock()
	m.client = client
	m.clientMu.Unlock()
	m.lastMessage.Store(time.Now())

	m.logger.Info("Subscribed to wallet logs",
		zap.String("wallet", m.target.String()),
		zap.String("endpoint", m.wsURL))
	return sub, nil
}

func (m *LogsMonitor) closeClient() {
	m.clientMu.Lock()
	defer m.clientMu.Unlock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}

// run is the streaming loop with reconnect handling. The watchdog closes the
// client when no message arrives within the read timeout, which unblocks
// Recv with an error and triggers a reconnect.
func (m *LogsMonitor) run(ctx context.Context, sub *ws.LogSubscription) {
	defer m.wg.Done()
	defer m.closeEvents()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go m.watchdog(ctx, watchdogDone)

	reconnects := 0
	backoffDelay := time.Second

	for {
		m.setState(StateStreaming)
		err := m.stream(ctx, sub)
		if sub != nil {
			sub.Unsubscribe()
		}
		m.closeClient()

		if ctx.Err() != nil {
			return
		}

		reconnects++
		m.countReconnect()
		if reconnects > m.maxReconnects {
			m.logger.Error("Giving up after repeated reconnect failures",
				zap.Int("attempts", reconnects-1),
				zap.Error(ErrMaxReconnects))
			m.setState(StateDisconnected)
			return
		}

		m.setState(StateReconnecting)
		m.logger.Warn("Stream dropped, reconnecting",
			zap.Int("attempt", reconnects),
			zap.Duration("backoff", backoffDelay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffDelay):
		}
		backoffDelay = nextBackoff(backoffDelay, m.maxBackoff)

		m.setState(StateConnecting)
		sub, err = m.subscribe(ctx)
		if err != nil {
			m.logger.Warn("Reconnect failed", zap.Error(err))
			// Loop again; the failed subscribe counts as a dropped stream.
			sub = nil
			continue
		}
		reconnects = 0
		backoffDelay = time.Second
	}
}

// stream consumes log notifications until the connection fails.
func (m *LogsMonitor) stream(ctx context.Context, sub *ws.LogSubscription) error {
	if sub == nil {
		return errors.New("no active subscription")
	}
	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		m.lastMessage.Store(time.Now())
		if got == nil {
			continue
		}
		if got.Value.Err != nil {
			// Failed transaction, nothing to mirror.
			continue
		}
		m.handleSignature(ctx, got.Value.Signature)
	}
}

// handleSignature fetches and emits the full transaction for a log hit.
func (m *LogsMonitor) handleSignature(ctx context.Context, sig solana.Signature) {
	if m.seen.Contains(sig.String()) {
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	raw, err := fetchTransaction(fetchCtx, m.rpcClient, sig, "logs")
	if err != nil {
		m.logger.Debug("Skipping transaction",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return
	}
	m.emit(ctx, raw)
}

// watchdog forces a reconnect when the stream goes silent past the read
// timeout. Closing the client unblocks Recv.
func (m *LogsMonitor) watchdog(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if m.currentState() != StateStreaming {
				continue
			}
			if time.Since(m.lastMessage.Load()) > m.readTimeout {
				m.logger.Warn("No messages within read timeout, forcing reconnect",
					zap.Duration("read_timeout", m.readTimeout))
				m.closeClient()
			}
		}
	}
}

// atomic64Time is a mutex-guarded timestamp shared between the stream loop
// and the watchdog.
type atomic64Time struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64Time) Store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64Time) Load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
