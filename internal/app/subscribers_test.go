package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/solmirror/mirror-bot/internal/alerts"
	"github.com/solmirror/mirror-bot/internal/broadcast"
	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/storage"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingStore captures persistence calls without a database.
type recordingStore struct {
	mu         sync.Mutex
	signals    []*types.Signal
	executions []*storage.ExecutionRecord
	closed     []*ledger.Position
}

func (s *recordingStore) SaveSignal(_ context.Context, signal *types.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	return nil
}

func (s *recordingStore) SaveExecution(_ context.Context, record *storage.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, record)
	return nil
}

func (s *recordingStore) SaveClosedPosition(_ context.Context, pos *ledger.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, pos)
	return nil
}

func (s *recordingStore) RecentSignals(_ context.Context, _ int) ([]*types.Signal, error) {
	return nil, nil
}

func (s *recordingStore) Close() {}

func TestBusFansOutToStore(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, 16)
	defer bus.Shutdown(context.Background())

	store := &recordingStore{}
	wireSubscribers(bus, nil, store, nil, logger)

	signal := &types.Signal{
		Action:      types.ActionBuy,
		TokenMint:   "mintA",
		SolAmount:   1.5,
		TxSignature: "sig-1",
	}
	require.NoError(t, bus.PublishSync(context.Background(), events.NewSignalEvent(signal)))
	require.NoError(t, bus.PublishSync(context.Background(),
		events.NewTradeExecutedEvent(types.ActionBuy, "mintA", 0.5, types.ExecutionResult{
			Success: true, Signature: "sig-exec", SlippageBps: 300, Paper: true,
		})))
	require.NoError(t, bus.PublishSync(context.Background(),
		events.NewPositionClosedEvent(&ledger.Position{Token: "mintA"}, "test close")))

	require.Len(t, store.signals, 1)
	assert.Equal(t, "sig-1", store.signals[0].TxSignature)

	require.Len(t, store.executions, 1)
	assert.Equal(t, "sig-exec", store.executions[0].Signature)
	assert.InDelta(t, 0.5, store.executions[0].SolAmount, 1e-9)
	assert.Equal(t, 300, store.executions[0].SlippageBps)
	assert.True(t, store.executions[0].Paper)

	require.Len(t, store.closed, 1)
	assert.Equal(t, "mintA", store.closed[0].Token)
}

func TestBusFansOutToAlerts(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, 16)
	defer bus.Shutdown(context.Background())

	manager := alerts.New(alerts.Config{LargeTradeSOL: 1, Cooldown: time.Minute}, logger)
	fired := make(chan alerts.Alert, 4)
	manager.AddHandler(func(a alerts.Alert) { fired <- a })

	wireSubscribers(bus, nil, nil, manager, logger)

	require.NoError(t, bus.PublishSync(context.Background(),
		events.NewSignalEvent(&types.Signal{
			Action:    types.ActionBuy,
			TokenMint: "mintA",
			SolAmount: 5,
		})))

	select {
	case a := <-fired:
		assert.Equal(t, alerts.AlertTypeLargeTrade, a.Type)
		assert.Equal(t, "mintA", a.TokenMint)
	case <-time.After(2 * time.Second):
		t.Fatal("large trade alert never fired")
	}
}

func TestBusEventsReachDashboard(t *testing.T) {
	logger := zap.NewNop()
	bus := events.NewBus(logger, 16)
	defer bus.Shutdown(context.Background())

	hub := broadcast.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 10*time.Millisecond)

	wireSubscribers(bus, hub, nil, nil, logger)

	require.NoError(t, bus.PublishSync(context.Background(),
		events.NewSignalEvent(&types.Signal{Action: types.ActionSell, TokenMint: "mintB"})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type   string `json:"type"`
		Signal struct {
			TokenMint string
		} `json:"signal"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, string(events.SignalDetected), frame.Type)
	assert.Equal(t, "mintB", frame.Signal.TokenMint)
}
