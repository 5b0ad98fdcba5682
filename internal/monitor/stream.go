// internal/monitor/stream.go
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// StreamMonitor is the enhanced-gateway variant: a server-side
// transactionSubscribe filtered to the target wallet, so full transaction
// records arrive on the socket and no follow-up RPC fetch is needed.
type StreamMonitor struct {
	baseMonitor

	streamURL string
	apiKey    string

	connMu sync.Mutex
	conn   *websocket.Conn

	pingInterval  time.Duration
	readTimeout   time.Duration
	writeTimeout  time.Duration
	maxReconnects int
	maxBackoff    time.Duration
}

// NewStreamMonitor creates a gateway-stream monitor for the target wallet.
func NewStreamMonitor(streamURL, apiKey string, target solana.PublicKey, logger *zap.Logger) *StreamMonitor {
	return &StreamMonitor{
		baseMonitor:   newBaseMonitor(target, logger.Named("stream_monitor")),
		streamURL:     streamURL,
		apiKey:        apiKey,
		pingInterval:  defaultPingInterval,
		readTimeout:   defaultReadTimeout,
		writeTimeout:  10 * time.Second,
		maxReconnects: defaultMaxReconnects,
		maxBackoff:    defaultMaxReconnectWait,
	}
}

// Connect dials the gateway and starts streaming.
func (m *StreamMonitor) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.setState(StateConnecting)
	if err := m.dialAndSubscribe(runCtx); err != nil {
		m.setState(StateDisconnected)
		cancel()
		return err
	}

	m.wg.Add(2)
	go m.readLoop(runCtx)
	go m.pingLoop(runCtx)

	return nil
}

// Disconnect stops the monitor and closes the socket.
func (m *StreamMonitor) Disconnect() {
	if m.cancel != nil {
		m.cancel()
	}
	m.closeConn()
	m.wg.Wait()
	m.setState(StateDisconnected)
}

func (m *StreamMonitor) endpoint() string {
	if m.apiKey == "" {
		return m.streamURL
	}
	u, err := url.Parse(m.streamURL)
	if err != nil {
		return m.streamURL
	}
	q := u.Query()
	q.Set("api-key", m.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (m *StreamMonitor) dialAndSubscribe(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, m.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial stream gateway: %w", err)
	}

	req := streamRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "transactionSubscribe",
		Params: []interface{}{
			map[string]interface{}{
				"accountInclude": []string{m.target.String()},
				"failed":         false,
			},
			map[string]interface{}{
				"commitment":                     "confirmed",
				"encoding":                       "jsonParsed",
				"transactionDetails":             "full",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe request: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.readTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(m.readTimeout))

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	m.logger.Info("Subscribed to transaction stream",
		zap.String("wallet", m.target.String()))
	return nil
}

func (m *StreamMonitor) closeConn() {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.conn.Close()
		m.conn = nil
	}
}

// readLoop consumes stream messages, reconnecting with exponential backoff.
func (m *StreamMonitor) readLoop(ctx context.Context) {
	defer m.wg.Done()
	defer m.closeEvents()

	reconnects := 0
	backoffDelay := time.Second

	for {
		m.connMu.Lock()
		conn := m.conn
		m.connMu.Unlock()

		if conn == nil {
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
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDelay):
			}
			backoffDelay = nextBackoff(backoffDelay, m.maxBackoff)

			m.setState(StateConnecting)
			if err := m.dialAndSubscribe(ctx); err != nil {
				m.logger.Warn("Reconnect failed",
					zap.Int("attempt", reconnects),
					zap.Error(err))
				continue
			}
			reconnects = 0
			backoffDelay = time.Second
			continue
		}

		m.setState(StateStreaming)
		conn.SetReadDeadline(time.Now().Add(m.readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("Stream read failed", zap.Error(err))
			m.closeConn()
			continue
		}

		m.handleMessage(ctx, message)
	}
}

// pingLoop keeps the connection alive; a missed pong trips the read deadline.
func (m *StreamMonitor) pingLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.connMu.Lock()
			conn := m.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					m.logger.Debug("Ping failed", zap.Error(err))
				}
			}
			m.connMu.Unlock()
		}
	}
}

func (m *StreamMonitor) handleMessage(ctx context.Context, message []byte) {
	var notif streamNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		m.logger.Debug("Undecodable stream message", zap.Error(err))
		return
	}
	if notif.Method != "transactionNotification" {
		// Subscription confirmations and errors land here.
		return
	}

	result := notif.Params.Result
	raw, err := result.toRawTransaction()
	if err != nil {
		m.logger.Debug("Skipping stream transaction", zap.Error(err))
		return
	}
	m.emit(ctx, raw)
}

type streamRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type streamNotification struct {
	Method string `json:"method"`
	Params struct {
		Result streamTxResult `json:"result"`
	} `json:"params"`
}

type streamTxResult struct {
	Signature   string `json:"signature"`
	Slot        uint64 `json:"slot"`
	Transaction struct {
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta struct {
			Err               interface{}          `json:"err"`
			PreBalances       []uint64             `json:"preBalances"`
			PostBalances      []uint64             `json:"postBalances"`
			PreTokenBalances  []streamTokenBalance `json:"preTokenBalances"`
			PostTokenBalances []streamTokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	} `json:"transaction"`
	BlockTime int64 `json:"blockTime"`
}

type streamTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount *float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

func (r *streamTxResult) toRawTransaction() (types.RawTransaction, error) {
	if r.Signature == "" {
		return types.RawTransaction{}, fmt.Errorf("stream result missing signature")
	}
	if r.Transaction.Meta.Err != nil {
		return types.RawTransaction{}, fmt.Errorf("transaction %s failed on-chain", r.Signature)
	}

	accounts := make([]string, 0, len(r.Transaction.Transaction.Message.AccountKeys))
	for _, key := range r.Transaction.Transaction.Message.AccountKeys {
		accounts = append(accounts, key.Pubkey)
	}

	var blockTime time.Time
	if r.BlockTime > 0 {
		blockTime = time.Unix(r.BlockTime, 0)
	}

	return types.RawTransaction{
		Signature:         r.Signature,
		Slot:              r.Slot,
		BlockTime:         blockTime,
		AccountKeys:       accounts,
		PreBalances:       r.Transaction.Meta.PreBalances,
		PostBalances:      r.Transaction.Meta.PostBalances,
		PreTokenBalances:  convertStreamTokenBalances(r.Transaction.Meta.PreTokenBalances),
		PostTokenBalances: convertStreamTokenBalances(r.Transaction.Meta.PostTokenBalances),
		Source:            "stream",
	}, nil
}

func convertStreamTokenBalances(balances []streamTokenBalance) []types.TokenBalance {
	if len(balances) == 0 {
		return nil
	}
	result := make([]types.TokenBalance, 0, len(balances))
	for _, tb := range balances {
		var amount float64
		if tb.UITokenAmount.UIAmount != nil {
			amount = *tb.UITokenAmount.UIAmount
		}
		result = append(result, types.TokenBalance{
			AccountIndex: tb.AccountIndex,
			Mint:         tb.Mint,
			Owner:        tb.Owner,
			Amount:       amount,
		})
	}
	return result
}
