package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMint = "TokenMint1111111111111111111111111111111111"

func quoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/quote"):
			assert.Equal(t, types.WSOLMint, r.URL.Query().Get("inputMint"))
			assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
			w.Write([]byte(`{
				"inputMint": "` + types.WSOLMint + `",
				"inAmount": "1000000000",
				"outputMint": "` + testMint + `",
				"outAmount": "123456789",
				"priceImpactPct": "0.0123",
				"slippageBps": 300
			}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestGetQuoteDecodesAmounts(t *testing.T) {
	srv := quoteServer(t)
	defer srv.Close()

	c := NewQuoteClient(srv.URL, zap.NewNop())
	quote, err := c.GetQuote(context.Background(), types.WSOLMint, testMint, 1_000_000_000, 300)
	require.NoError(t, err)

	assert.Equal(t, uint64(1_000_000_000), quote.InAmount)
	assert.Equal(t, uint64(123_456_789), quote.OutAmount)
	assert.InDelta(t, 0.0123, quote.PriceImpactPct, 1e-9)
	assert.NotEmpty(t, quote.Response, "raw quote must survive for the swap build")
}

func TestGetQuoteRejectsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no route"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewQuoteClient(srv.URL, zap.NewNop())
	_, err := c.GetQuote(context.Background(), types.WSOLMint, testMint, 1, 300)
	assert.Error(t, err)
}

func TestPaperExecuteFillsWithoutChain(t *testing.T) {
	srv := quoteServer(t)
	defer srv.Close()

	e := New(Config{PaperTrading: true, SlippageBps: 300}, nil, nil,
		NewQuoteClient(srv.URL, zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())

	result := e.Buy(context.Background(), testMint, 1_000_000_000)
	require.NoError(t, result.Err)

	assert.True(t, result.Success)
	assert.True(t, result.Paper)
	assert.True(t, strings.HasPrefix(result.Signature, "paper-"))
	// Paper fills land at the worst price the 300 bps tolerance allows.
	assert.Equal(t, types.MinAmountOut(123_456_789, 300), result.OutAmount)
}

func TestPaperExecuteSurfacesQuoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New(Config{PaperTrading: true, SlippageBps: 300}, nil, nil,
		NewQuoteClient(srv.URL, zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())

	result := e.Execute(context.Background(), types.TradeExecution{
		Side: types.ActionBuy, TokenMint: testMint, AmountIn: 1, SlippageBps: 300,
	})
	assert.False(t, result.Success)
	assert.Error(t, result.Err)
}

func TestFeeOracleTakesMaxOfFloors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"landed_tips_50th_percentile":0.0001,"landed_tips_75th_percentile":0.002}]`))
	}))
	defer srv.Close()

	// Dynamic floor (0.002 SOL) beats the configured minimum.
	f := NewFeeOracle(srv.URL, 0.0005, zap.NewNop())
	fee := f.PriorityFeeLamports(context.Background(), false)
	assert.Equal(t, uint64(0.002*types.LamportsPerSOL), fee)
}

func TestFeeOracleConfiguredMinimumWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"landed_tips_50th_percentile":0.00001,"landed_tips_75th_percentile":0.00002}]`))
	}))
	defer srv.Close()

	f := NewFeeOracle(srv.URL, 0.005, zap.NewNop())
	fee := f.PriorityFeeLamports(context.Background(), false)
	assert.Equal(t, uint64(0.005*types.LamportsPerSOL), fee)
}

func TestFeeOracleAntiMEVFloor(t *testing.T) {
	f := NewFeeOracle("", 0, zap.NewNop())

	assert.Equal(t, uint64(0), f.PriorityFeeLamports(context.Background(), false))
	assert.Equal(t, uint64(antiMEVFloorSOL*types.LamportsPerSOL),
		f.PriorityFeeLamports(context.Background(), true))
}

func TestFeeOracleDegradesOnFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFeeOracle(srv.URL, 0.001, zap.NewNop())
	fee := f.PriorityFeeLamports(context.Background(), false)
	assert.Equal(t, uint64(0.001*types.LamportsPerSOL), fee)
}

func TestProberPicksFastestEndpoint(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"ok"}`))
	}))
	defer fast.Close()

	p := NewProber([]string{slow.URL, fast.URL}, zap.NewNop())
	assert.Equal(t, fast.URL, p.Fastest(context.Background()))
	// Second call must come from cache, not a re-probe.
	assert.Equal(t, fast.URL, p.Fastest(context.Background()))
}

func TestProberFallsBackWhenAllFail(t *testing.T) {
	p := NewProber([]string{"http://127.0.0.1:1", "http://127.0.0.1:2"}, zap.NewNop())
	assert.Equal(t, "http://127.0.0.1:1", p.Fastest(context.Background()))
}

func TestProberEmptyEndpoints(t *testing.T) {
	p := NewProber(nil, zap.NewNop())
	assert.Equal(t, "", p.Fastest(context.Background()))
}

func TestPriceClientParsesAndCachesSOL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"data":{"` + types.WSOLMint + `":{"price":"150.5"}}}`))
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, zap.NewNop())

	price, err := c.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 150.5, price, 1e-9)

	_, err = c.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read must hit the cache")
}

func TestPriceClientStaleFallback(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"` + types.WSOLMint + `":{"price":"150.5"}}}`))
	}))
	defer srv.Close()

	c := NewPriceClient(srv.URL, zap.NewNop())
	_, err := c.SOLPriceUSD(context.Background())
	require.NoError(t, err)

	// Expire the cache, break the endpoint: the stale value must survive.
	c.mu.Lock()
	c.solPricedAt = time.Now().Add(-time.Minute)
	c.mu.Unlock()
	healthy = false

	price, err := c.SOLPriceUSD(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 150.5, price, 1e-9)
}

func TestSellEscalatesSlippageThenGivesUp(t *testing.T) {
	// The quote succeeds but live execution is impossible without a wallet,
	// so every attempt fails and slippage walks up to the ceiling.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"inputMint": "` + testMint + `",
			"inAmount": "1000",
			"outputMint": "` + types.WSOLMint + `",
			"outAmount": "500",
			"priceImpactPct": "0",
			"slippageBps": 300
		}`))
	}))
	defer srv.Close()

	e := New(Config{PaperTrading: false, SlippageBps: 300}, nil, nil,
		NewQuoteClient(srv.URL, zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())
	e.retryWait = time.Millisecond

	result := e.Sell(context.Background(), testMint, 1000)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrManualIntervention)
}

func TestSellConfirmationTimeoutIsNotRetried(t *testing.T) {
	e := New(Config{PaperTrading: false, SlippageBps: 300}, nil, nil,
		NewQuoteClient("", zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())
	e.retryWait = time.Millisecond

	// The transaction was submitted but its status never resolved: the
	// outcome is unknown and re-submitting could fill the sell twice.
	attempts := 0
	e.execute = func(_ context.Context, exec types.TradeExecution) types.ExecutionResult {
		attempts++
		return types.ExecutionResult{
			Signature:   "sig-unresolved",
			SlippageBps: exec.SlippageBps,
			Err:         fmt.Errorf("transaction sig-unresolved: %w", ErrConfirmationTimeout),
		}
	}

	result := e.Sell(context.Background(), testMint, 1000)

	assert.Equal(t, 1, attempts, "an in-flight transaction must not be re-submitted")
	assert.False(t, result.Success)
	assert.Equal(t, "sig-unresolved", result.Signature)
	assert.ErrorIs(t, result.Err, ErrConfirmationTimeout)
	assert.NotErrorIs(t, result.Err, ErrManualIntervention)
}

func TestSellPausesBetweenRetries(t *testing.T) {
	e := New(Config{PaperTrading: false, SlippageBps: 300}, nil, nil,
		NewQuoteClient("", zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())
	e.retryWait = 40 * time.Millisecond

	var stamps []time.Time
	e.execute = func(_ context.Context, exec types.TradeExecution) types.ExecutionResult {
		stamps = append(stamps, time.Now())
		return types.ExecutionResult{
			SlippageBps: exec.SlippageBps,
			Err:         errors.New("block height exceeded"),
		}
	}

	result := e.Sell(context.Background(), testMint, 1000)
	assert.ErrorIs(t, result.Err, ErrManualIntervention)

	require.Len(t, stamps, sellRetryLimit)
	for i := 1; i < len(stamps); i++ {
		// Jitter can halve the interval; anything clearly nonzero proves
		// the attempts are spaced rather than back to back.
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), 15*time.Millisecond,
			"retry %d fired without pausing", i)
	}
}

func TestSellStopsEscalatingWhenContextCancelled(t *testing.T) {
	e := New(Config{PaperTrading: false, SlippageBps: 300}, nil, nil,
		NewQuoteClient("", zap.NewNop()),
		NewProber(nil, zap.NewNop()),
		NewFeeOracle("", 0, zap.NewNop()),
		zap.NewNop())
	e.retryWait = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	e.execute = func(_ context.Context, exec types.TradeExecution) types.ExecutionResult {
		attempts++
		cancel()
		return types.ExecutionResult{SlippageBps: exec.SlippageBps, Err: errors.New("node unreachable")}
	}

	result := e.Sell(ctx, testMint, 1000)
	assert.Equal(t, 1, attempts)
	assert.False(t, result.Success)
}
