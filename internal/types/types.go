// internal/types/types.go
package types

import (
	"encoding/json"
	"time"
)

const (
	// WSOLMint is the wrapped-SOL mint; token-balance changes on it are
	// routing noise, never the traded token.
	WSOLMint = "So11111111111111111111111111111111111111112"

	LamportsPerSOL = 1_000_000_000
)

// TradeAction is the inferred direction of a target-wallet swap.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
)

// TokenBalance is one pre/post token balance row of a transaction.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       float64 // UI amount (decimals applied)
}

// RawTransaction is the monitor output: one confirmed transaction that
// mentions the target wallet, flattened to what the parser needs.
type RawTransaction struct {
	Signature         string
	Slot              uint64
	BlockTime         time.Time
	AccountKeys       []string
	PreBalances       []uint64 // lamports, index-aligned with AccountKeys
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	Source            string // monitor variant that produced it
}

// Signal is a decoded swap of the target wallet. Immutable once produced.
type Signal struct {
	Wallet      string
	Action      TradeAction
	TokenMint   string
	TokenAmount float64 // UI amount of the traded token
	SolAmount   float64 // trade notional in SOL
	Price       float64 // SOL per token
	Timestamp   time.Time
	TxSignature string

	// Sell-side context from the parser's holdings tracker. Zero on buys
	// when the trader was flat before the trade.
	TraderTotalTokensBeforeTrade float64
	TraderSoldTokens             float64
}

// Quote is a transient quote from the swap-routing service.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	SlippageBps    int
	// Response is the verbatim quote JSON, passed back on POST /swap.
	Response json.RawMessage
}

// TradeExecution describes one replica trade to perform.
type TradeExecution struct {
	Side        TradeAction
	TokenMint   string
	AmountIn    uint64 // lamports for buys, raw token amount for sells
	SlippageBps int
	PriorityFee uint64 // micro-lamports per compute unit
	AntiMEV     bool
}

// ExecutionResult is the outcome of a trade submission.
type ExecutionResult struct {
	Success     bool
	Signature   string
	OutAmount   uint64 // quoted output in raw units; synthetic in paper mode
	SlippageBps int    // tolerance the fill was submitted with
	Paper       bool
	Err         error
}
