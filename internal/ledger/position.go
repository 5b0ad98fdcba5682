// internal/ledger/position.go
package ledger

import "time"

// PositionStatus is the lifecycle state of a replica position.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusPartial PositionStatus = "partial"
	StatusClosed  PositionStatus = "closed"
)

// Entry is one buy that contributed to a position.
type Entry struct {
	SolAmount   float64   `json:"sol_amount"`
	TokenAmount float64   `json:"token_amount"`
	Price       float64   `json:"price"`     // SOL per token at entry
	PriceUSD    float64   `json:"price_usd"` // USD per token at entry
	Tx          string    `json:"tx"`
	Timestamp   time.Time `json:"timestamp"`
}

// PartialExit is one proportional reduction of a position. Immutable once
// appended.
type PartialExit struct {
	Percentage  float64   `json:"percentage"`
	TokensSold  float64   `json:"tokens_sold"`
	SolReduced  float64   `json:"sol_reduced"`  // invested SOL released by this exit
	SolReceived float64   `json:"sol_received"` // realized SOL proceeds
	ExitPrice   float64   `json:"exit_price"`   // USD per token
	PnL         float64   `json:"pnl"`          // SOL
	PnLPercent  float64   `json:"pnl_percent"`
	Tx          string    `json:"tx"`
	Timestamp   time.Time `json:"timestamp"`
	Reason      string    `json:"reason"`
}

// Position is the bot's replica exposure to one token.
//
// Invariant: TokenAmount == InitialTokenAmount − Σ(PartialExits.TokensSold),
// and never negative. InitialTokenAmount never decreases; it is the P&L
// denominator baseline.
type Position struct {
	Token   string  `json:"token"`
	Entries []Entry `json:"entries"`

	EntryPriceUSD      float64 `json:"entry_price_usd"` // token-amount-weighted average
	TokenAmount        float64 `json:"token_amount"`    // live remaining
	InitialTokenAmount float64 `json:"initial_token_amount"`
	EntryAmountSOL     float64 `json:"entry_amount_sol"` // total SOL ever committed
	SolInvested        float64 `json:"sol_invested"`     // SOL still at risk

	Status       PositionStatus `json:"status"`
	PartialExits []PartialExit  `json:"partial_exits"`

	CurrentPriceUSD float64 `json:"current_price_usd"`
	UnrealizedPnL   float64 `json:"unrealized_pnl"` // SOL
	PnLPercent      float64 `json:"pnl_percent"`

	FinalPnL   float64 `json:"final_pnl"` // SOL, set on close
	Manual     bool    `json:"manual"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
	EntryTx    string    `json:"entry_tx"`
	CloseTx    string    `json:"close_tx,omitempty"`
}

// realizedSOL sums the proceeds of all partial exits.
func (p *Position) realizedSOL() float64 {
	var total float64
	for _, exit := range p.PartialExits {
		total += exit.SolReceived
	}
	return total
}

// soldTokens sums tokens released through partial exits.
func (p *Position) soldTokens() float64 {
	var total float64
	for _, exit := range p.PartialExits {
		total += exit.TokensSold
	}
	return total
}

// recomputeWeightedEntry recalculates the token-amount-weighted average USD
// entry price across all entries.
func (p *Position) recomputeWeightedEntry() {
	var weighted, tokens float64
	for _, e := range p.Entries {
		weighted += e.PriceUSD * e.TokenAmount
		tokens += e.TokenAmount
	}
	if tokens > 0 {
		p.EntryPriceUSD = weighted / tokens
	}
}
