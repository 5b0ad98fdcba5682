package parser

import (
	"testing"
	"time"

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

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	logger := zap.NewNop()
	return New(registry.New(), NewHoldings(logger), testWallet, logger)
}

// buyTx models the target spending 1.5 SOL through Raydium for 1000 tokens.
// The pool vault sees the largest delta; the wallet only loses what it paid.
func buyTx(sig string) types.RawTransaction {
	return types.RawTransaction{
		Signature:   sig,
		BlockTime:   time.Now(),
		AccountKeys: []string{testWallet, raydiumProg, "PoolVault111"},
		PreBalances: []uint64{5_000_000_000, 0, 100_000_000_000},
		PostBalances: []uint64{
			5_000_000_000 - 1_505_000_000, // paid 1.5 SOL + fees
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

func TestParseBuySignal(t *testing.T) {
	p := newTestParser(t)

	signal, err := p.Parse(buyTx("sig-buy"))
	require.NoError(t, err)

	assert.Equal(t, types.ActionBuy, signal.Action)
	assert.Equal(t, testMint, signal.TokenMint)
	assert.InDelta(t, 1000, signal.TokenAmount, 1e-9)
	// Notional is the pool vault's delta (1.5 SOL), not the wallet's
	// fee-inclusive delta.
	assert.InDelta(t, 1.505, signal.SolAmount, 1e-9)
	assert.InDelta(t, 1.505/1000, signal.Price, 1e-12)
	assert.Equal(t, "sig-buy", signal.TxSignature)
}

func TestParseSellSignalWithHoldingsContext(t *testing.T) {
	p := newTestParser(t)

	signal, err := p.Parse(sellTx("sig-sell", 500, 1000, 750_000_000))
	require.NoError(t, err)

	assert.Equal(t, types.ActionSell, signal.Action)
	assert.InDelta(t, 500, signal.TokenAmount, 1e-9)
	assert.InDelta(t, 500, signal.TraderSoldTokens, 1e-9)
	assert.InDelta(t, 1000, signal.TraderTotalTokensBeforeTrade, 1e-9)
	// Counter tracks the remainder for the next sell.
	assert.InDelta(t, 500, p.Holdings().Get(testWallet, testMint), 1e-9)
}

func TestParseRejectsWalletNotInvolved(t *testing.T) {
	p := newTestParser(t)

	tx := buyTx("sig-other")
	tx.AccountKeys = []string{"SomeoneElse11111", raydiumProg}

	_, err := p.Parse(tx)
	assert.ErrorIs(t, err, ErrWalletNotInvolved)
}

func TestParseRejectsZeroTokenAmount(t *testing.T) {
	p := newTestParser(t)

	tx := buyTx("sig-zero")
	tx.PreTokenBalances = []types.TokenBalance{
		{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 100},
	}
	tx.PostTokenBalances = []types.TokenBalance{
		{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 100},
	}

	_, err := p.Parse(tx)
	assert.Error(t, err, "a signal with zero token amount must never be emitted")
}

func TestParseUnknownVenueHeuristic(t *testing.T) {
	p := newTestParser(t)

	// No registered program, but a 1.5 SOL move: accepted by heuristic.
	tx := buyTx("sig-unknown")
	tx.AccountKeys = []string{testWallet, "UnknownProgram1111", "PoolVault111"}

	signal, err := p.Parse(tx)
	require.NoError(t, err)
	assert.Equal(t, types.ActionBuy, signal.Action)
}

func TestParseUnknownVenueSmallDeltaRejected(t *testing.T) {
	p := newTestParser(t)

	tx := types.RawTransaction{
		Signature:    "sig-dust",
		BlockTime:    time.Now(),
		AccountKeys:  []string{testWallet, "UnknownProgram1111"},
		PreBalances:  []uint64{1_000_000_000, 0},
		PostBalances: []uint64{999_500_000, 500_000}, // 0.0005 SOL moved
	}

	_, err := p.Parse(tx)
	assert.ErrorIs(t, err, ErrNotSwap)
}

func TestParseSellFallbackOnFlatNativeDelta(t *testing.T) {
	p := newTestParser(t)

	// SOL proceeds net out against the fee, tokens decreased: still a sell.
	tx := types.RawTransaction{
		Signature:    "sig-flat",
		BlockTime:    time.Now(),
		AccountKeys:  []string{testWallet, raydiumProg, "PoolVault111"},
		PreBalances:  []uint64{1_000_000_000, 0, 50_000_000_000},
		PostBalances: []uint64{1_000_500_000, 0, 49_950_000_000},
		PreTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 200},
		},
		PostTokenBalances: []types.TokenBalance{
			{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 150},
		},
	}

	signal, err := p.Parse(tx)
	require.NoError(t, err)
	assert.Equal(t, types.ActionSell, signal.Action)
	assert.InDelta(t, 50, signal.TokenAmount, 1e-9)
}

func TestParseClosedTokenAccount(t *testing.T) {
	p := newTestParser(t)

	// Selling the full balance closes the token account: the mint shows up
	// only in the pre-balances.
	tx := sellTx("sig-close", 1000, 1000, 900_000_000)
	tx.PostTokenBalances = nil

	signal, err := p.Parse(tx)
	require.NoError(t, err)
	assert.Equal(t, types.ActionSell, signal.Action)
	assert.InDelta(t, 1000, signal.TokenAmount, 1e-9)
	assert.InDelta(t, 1000, signal.TraderTotalTokensBeforeTrade, 1e-9)
}

func TestSequentialBuysAccumulateHoldings(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(buyTx("sig-b1"))
	require.NoError(t, err)
	assert.InDelta(t, 1000, p.Holdings().Get(testWallet, testMint), 1e-9)

	tx := buyTx("sig-b2")
	tx.PreTokenBalances = []types.TokenBalance{
		{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 1000},
	}
	tx.PostTokenBalances = []types.TokenBalance{
		{AccountIndex: 0, Mint: testMint, Owner: testWallet, Amount: 1600},
	}
	signal, err := p.Parse(tx)
	require.NoError(t, err)

	assert.InDelta(t, 1000, signal.TraderTotalTokensBeforeTrade, 1e-9)
	assert.InDelta(t, 600, signal.TokenAmount, 1e-9)
	assert.InDelta(t, 1600, p.Holdings().Get(testWallet, testMint), 1e-9)
}
