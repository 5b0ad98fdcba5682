// internal/parser/parser.go
package parser

import (
	"errors"
	"math"

	"github.com/solmirror/mirror-bot/internal/registry"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// Parse failures. All of them mean "drop this transaction", never a fault.
var (
	ErrWalletNotInvolved = errors.New("target wallet not among transaction accounts")
	ErrNotSwap           = errors.New("transaction does not look like a swap")
	ErrAmbiguousDeltas   = errors.New("balance deltas too small to infer direction")
	ErrNoTokenChange     = errors.New("no token balance change for target wallet")
	ErrZeroTokenAmount   = errors.New("token amount is zero")
)

const (
	// feeNoiseLamports is the band within which a native delta is treated
	// as fees rather than trade flow.
	feeNoiseLamports = 2_000_000 // 0.002 SOL

	// minSwapLamports is the largest-delta threshold for the unknown-venue
	// heuristic. Deliberately permissive: a big transfer may slip through
	// and be rejected later, but a real swap on an unlisted venue won't be
	// missed.
	minSwapLamports = 10_000_000 // 0.01 SOL
)

// Parser decodes raw transactions into trade signals using the DEX registry
// and balance-delta analysis.
type Parser struct {
	registry *registry.Registry
	holdings *Holdings
	wallet   string
	logger   *zap.Logger
}

// New creates a parser scoped to one target wallet.
func New(reg *registry.Registry, holdings *Holdings, targetWallet string, logger *zap.Logger) *Parser {
	return &Parser{
		registry: reg,
		holdings: holdings,
		wallet:   targetWallet,
		logger:   logger.Named("parser"),
	}
}

// Holdings exposes the parser-owned holdings tracker for seeding.
func (p *Parser) Holdings() *Holdings {
	return p.holdings
}

// Parse decodes one raw transaction into a Signal. A nil error with a nil
// signal never happens; every reject path returns a sentinel error.
func (p *Parser) Parse(raw types.RawTransaction) (*types.Signal, error) {
	walletIndex := -1
	for i, acc := range raw.AccountKeys {
		if acc == p.wallet {
			walletIndex = i
			break
		}
	}
	if walletIndex == -1 {
		return nil, ErrWalletNotInvolved
	}

	largestDelta := largestNativeDelta(raw.PreBalances, raw.PostBalances)

	venue := p.registry.MatchAccounts(raw.AccountKeys)
	if venue == "" {
		if largestDelta < minSwapLamports {
			return nil, ErrNotSwap
		}
		// Best-effort heuristic: unknown program but a swap-sized native
		// move. Logged so false positives are traceable.
		venue = "unknown"
		p.logger.Debug("Unrecognized venue accepted by delta heuristic",
			zap.String("signature", raw.Signature),
			zap.Uint64("largest_delta_lamports", largestDelta))
	}

	// Direction comes from the wallet's own delta; the largest delta in the
	// transaction often belongs to an intermediate program account.
	walletDelta := nativeDelta(raw.PreBalances, raw.PostBalances, walletIndex)

	tokenMint, tokenDelta, preTokens := p.walletTokenChange(raw)

	var action types.TradeAction
	switch {
	case walletDelta < -feeNoiseLamports:
		action = types.ActionBuy
	case walletDelta > feeNoiseLamports:
		action = types.ActionSell
	case tokenMint != "" && tokenDelta < 0:
		// Fee-adjusted fallback: SOL proceeds roughly cancelled the fee but
		// tokens left the wallet.
		action = types.ActionSell
	default:
		return nil, ErrAmbiguousDeltas
	}

	if tokenMint == "" {
		return nil, ErrNoTokenChange
	}

	tokenAmount := math.Abs(tokenDelta)
	if tokenAmount == 0 {
		return nil, ErrZeroTokenAmount
	}

	// Notional uses the largest native delta across all accounts, which
	// captures the true trade size even when routed through pool vaults.
	solAmount := float64(largestDelta) / types.LamportsPerSOL
	price := solAmount / tokenAmount

	signal := &types.Signal{
		Wallet:      p.wallet,
		Action:      action,
		TokenMint:   tokenMint,
		TokenAmount: tokenAmount,
		SolAmount:   solAmount,
		Price:       price,
		Timestamp:   raw.BlockTime,
		TxSignature: raw.Signature,
	}

	p.applyHoldings(signal, preTokens)

	p.logger.Info("Swap detected",
		zap.String("signature", raw.Signature),
		zap.String("venue", venue),
		zap.String("action", string(action)),
		zap.String("token", tokenMint),
		zap.Float64("token_amount", tokenAmount),
		zap.Float64("sol_amount", solAmount),
		zap.String("source", raw.Source))

	return signal, nil
}

// applyHoldings fills sell-side context and keeps the per-wallet counters
// current. The transaction's own pre-balance is authoritative when present;
// the running counter covers providers that omit owner fields.
func (p *Parser) applyHoldings(signal *types.Signal, preTokens float64) {
	tracked := p.holdings.Get(signal.Wallet, signal.TokenMint)

	switch signal.Action {
	case types.ActionBuy:
		totalBefore := preTokens
		if totalBefore == 0 {
			totalBefore = tracked
		}
		signal.TraderTotalTokensBeforeTrade = totalBefore
		p.holdings.Set(signal.Wallet, signal.TokenMint, totalBefore+signal.TokenAmount)

	case types.ActionSell:
		totalBefore := preTokens
		if totalBefore == 0 {
			totalBefore = tracked
		}
		if totalBefore < signal.TokenAmount {
			// Counter lagged reality; the sell itself proves the minimum.
			totalBefore = signal.TokenAmount
		}
		signal.TraderTotalTokensBeforeTrade = totalBefore
		signal.TraderSoldTokens = signal.TokenAmount
		p.holdings.Set(signal.Wallet, signal.TokenMint, totalBefore-signal.TokenAmount)
	}
}

// walletTokenChange finds the mint whose balance changed for the target
// wallet, excluding wrapped SOL. Returns the mint, the signed UI delta and
// the pre-trade balance.
func (p *Parser) walletTokenChange(raw types.RawTransaction) (string, float64, float64) {
	pre := make(map[string]float64)
	for _, tb := range raw.PreTokenBalances {
		if tb.Owner == p.wallet && tb.Mint != types.WSOLMint {
			pre[tb.Mint] = tb.Amount
		}
	}

	var bestMint string
	var bestDelta float64
	var bestPre float64
	seen := make(map[string]bool)

	for _, tb := range raw.PostTokenBalances {
		if tb.Owner != p.wallet || tb.Mint == types.WSOLMint {
			continue
		}
		seen[tb.Mint] = true
		delta := tb.Amount - pre[tb.Mint]
		if math.Abs(delta) > math.Abs(bestDelta) {
			bestMint = tb.Mint
			bestDelta = delta
			bestPre = pre[tb.Mint]
		}
	}

	// Accounts closed by the trade appear only in the pre-balances.
	for mint, amount := range pre {
		if seen[mint] {
			continue
		}
		delta := -amount
		if math.Abs(delta) > math.Abs(bestDelta) {
			bestMint = mint
			bestDelta = delta
			bestPre = amount
		}
	}

	return bestMint, bestDelta, bestPre
}

func nativeDelta(pre, post []uint64, index int) int64 {
	if index >= len(pre) || index >= len(post) {
		return 0
	}
	return int64(post[index]) - int64(pre[index])
}

func largestNativeDelta(pre, post []uint64) uint64 {
	n := len(pre)
	if len(post) < n {
		n = len(post)
	}
	var largest uint64
	for i := 0; i < n; i++ {
		var delta uint64
		if post[i] > pre[i] {
			delta = post[i] - pre[i]
		} else {
			delta = pre[i] - post[i]
		}
		if delta > largest {
			largest = delta
		}
	}
	return largest
}
