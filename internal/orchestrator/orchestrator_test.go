package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/solmirror/mirror-bot/internal/alerts"
	"github.com/solmirror/mirror-bot/internal/config"
	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/executor"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/metrics"
	"github.com/solmirror/mirror-bot/internal/parser"
	"github.com/solmirror/mirror-bot/internal/registry"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testWallet  = "TraderWa11et111111111111111111111111111111"
	raydiumProg = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	testMint    = "TokenMint1111111111111111111111111111111111"
)

// fakeMonitor feeds canned transactions through the Monitor interface.
type fakeMonitor struct {
	events chan types.RawTransaction
}

func (f *fakeMonitor) Connect(ctx context.Context) error   { return nil }
func (f *fakeMonitor) Events() <-chan types.RawTransaction { return f.events }
func (f *fakeMonitor) Disconnect()                         {}

func quoteServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"inputMint": "in",
			"inAmount": "1000000000",
			"outputMint": "out",
			"outAmount": "5000000",
			"priceImpactPct": "0.01",
			"slippageBps": 300
		}`))
	}))
}

func newTestOrchestrator(t *testing.T, srvURL string) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()

	cfg := &config.Config{
		TargetWallet:    testWallet,
		PositionSizeSOL: 0.5,
		MaxPositions:    3,
		PaperTrading:    true,
		SlippageBps:     300,
		MinTradeSizeSOL: 0.1,
		StartingBalance: 10,
		PriceDelay:      10_000,
	}

	exec := executor.New(
		executor.Config{PaperTrading: true, SlippageBps: 300},
		nil, nil,
		executor.NewQuoteClient(srvURL, logger),
		executor.NewProber(nil, logger),
		executor.NewFeeOracle("", 0, logger),
		logger)

	led := ledger.New(100, 0, logger)

	o := New(cfg, Deps{
		Monitor:  &fakeMonitor{events: make(chan types.RawTransaction, 8)},
		Parser:   parser.New(registry.New(), parser.NewHoldings(logger), testWallet, logger),
		Ledger:   led,
		Executor: exec,
		Prices:   executor.NewPriceClient(srvURL, logger),
		Bus:      events.NewBus(logger, 64),
		Alerts:   alerts.New(alerts.DefaultConfig(), logger),
		Metrics:  metrics.New(),
	}, logger)
	t.Cleanup(func() { o.bus.Shutdown(context.Background()) })
	return o
}

func buyTx(sig string) types.RawTransaction {
	return types.RawTransaction{
		Signature:   sig,
		BlockTime:   time.Now(),
		AccountKeys: []string{testWallet, raydiumProg, "PoolVault111"},
		PreBalances: []uint64{5_000_000_000, 0, 100_000_000_000},
		PostBalances: []uint64{
			5_000_000_000 - 1_505_000_000,
			0,
			100_000_000_000 + 1_500_000_000,
		},
		PreTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 0},
		},
		PostTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 1000},
		},
	}
}

func sellTx(sig string, tokensSold, tokensBefore float64, solOut uint64) types.RawTransaction {
	return types.RawTransaction{
		Signature:   sig,
		BlockTime:   time.Now(),
		AccountKeys: []string{testWallet, raydiumProg, "PoolVault111"},
		PreBalances: []uint64{1_000_000_000, 0, 100_000_000_000},
		PostBalances: []uint64{
			1_000_000_000 + solOut,
			0,
			100_000_000_000 - solOut,
		},
		PreTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: tokensBefore},
		},
		PostTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: tokensBefore - tokensSold},
		},
	}
}

func TestBuySignalOpensReplicaPosition(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleTransaction(context.Background(), buyTx("sig-buy"))

	require.True(t, o.ledger.IsHolding(testMint))
	pos := o.ledger.Position(testMint)
	// Sized by configuration, not by the trader's 1.5 SOL.
	assert.InDelta(t, 0.5, pos.SolInvested, 1e-9)
	assert.False(t, pos.Manual)
}

func TestSellSignalExitsProportionally(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleTransaction(context.Background(), buyTx("sig-buy"))
	require.True(t, o.ledger.IsHolding(testMint))
	before := o.ledger.Position(testMint).TokenAmount

	// Trader dumps half the bag: the replica sheds half too.
	o.handleTransaction(context.Background(), sellTx("sig-sell", 500, 1000, 750_000_000))

	pos := o.ledger.Position(testMint)
	require.NotNil(t, pos)
	assert.InDelta(t, before/2, pos.TokenAmount, 1e-6)
	assert.Len(t, pos.PartialExits, 1)
}

func TestFullSellClosesReplicaPosition(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleTransaction(context.Background(), buyTx("sig-buy"))
	o.handleTransaction(context.Background(), sellTx("sig-sell", 1000, 1000, 1_500_000_000))

	assert.False(t, o.ledger.IsHolding(testMint))
	assert.Len(t, o.ledger.ClosedPositions(), 1)
}

func TestPausedOrchestratorSkipsSignals(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleCommand(context.Background(), types.Command{Type: types.CmdPause})
	o.handleTransaction(context.Background(), buyTx("sig-buy"))
	assert.False(t, o.ledger.IsHolding(testMint))

	o.handleCommand(context.Background(), types.Command{Type: types.CmdResume})
	o.handleTransaction(context.Background(), buyTx("sig-buy-2"))
	assert.True(t, o.ledger.IsHolding(testMint))
}

func TestEmergencyStopClosesBookAndBlocksTrades(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleTransaction(context.Background(), buyTx("sig-buy"))
	require.True(t, o.ledger.IsHolding(testMint))

	o.handleCommand(context.Background(), types.Command{Type: types.CmdEmergencyStop})
	assert.False(t, o.ledger.IsHolding(testMint))
	assert.Equal(t, 0, o.ledger.OpenCount())

	// The stop is sticky; new signals are rejected at the gate.
	o.handleTransaction(context.Background(), buyTx("sig-buy-3"))
	assert.False(t, o.ledger.IsHolding(testMint))
}

func TestManualPartialExitCommand(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleTransaction(context.Background(), buyTx("sig-buy"))
	before := o.ledger.Position(testMint).TokenAmount

	o.handleCommand(context.Background(), types.Command{
		Type: types.CmdPartialExit, TokenMint: testMint, Percent: 25,
	})

	pos := o.ledger.Position(testMint)
	require.NotNil(t, pos)
	assert.InDelta(t, before*0.75, pos.TokenAmount, 1e-6)
}

func TestUpdateConfigCommand(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleCommand(context.Background(), types.Command{
		Type: types.CmdUpdateConfig,
		Params: map[string]float64{
			"position_size_sol": 1.25,
			"max_positions":     7,
			"bogus_key":         1,
		},
	})

	assert.InDelta(t, 1.25, o.positionSize(), 1e-9)
	assert.Equal(t, 7, o.gateConfig().MaxPositions)
}

func TestManualBuyCommand(t *testing.T) {
	srv := quoteServer()
	defer srv.Close()
	o := newTestOrchestrator(t, srv.URL)

	o.handleCommand(context.Background(), types.Command{
		Type: types.CmdManualBuy, TokenMint: testMint, SolAmount: 0.75,
	})

	pos := o.ledger.Position(testMint)
	require.NotNil(t, pos)
	assert.True(t, pos.Manual)
	assert.InDelta(t, 0.75, pos.SolInvested, 1e-9)
}
