// internal/ledger/ledger.go
package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// closeDustTokens is the remainder below which a partial exit counts as a
// full close. Avoids positions lingering forever on float crumbs.
const closeDustTokens = 1e-9

// Ledger owns all open, partial and closed positions. It is the single
// writer of position state; the signal path mutates it serially, the price
// refresher only calls UpdatePrice.
type Ledger struct {
	mu sync.RWMutex

	positions map[string]*Position
	closed    []*Position

	solPriceUSD   float64
	maxPnLPercent float64 // sanity clamp for bad price ticks

	dailyDay      string
	dailyRealized float64
	wins          int
	losses        int

	logger *zap.Logger
}

// New creates an empty ledger. maxPnLPercent bounds reported P&L percent in
// both directions; zero disables the clamp.
func New(solPriceUSD, maxPnLPercent float64, logger *zap.Logger) *Ledger {
	return &Ledger{
		positions:     make(map[string]*Position),
		solPriceUSD:   solPriceUSD,
		maxPnLPercent: maxPnLPercent,
		dailyDay:      time.Now().Format("2006-01-02"),
		logger:        logger.Named("ledger"),
	}
}

// SetSOLPrice updates the SOL/USD conversion rate used for USD math.
func (l *Ledger) SetSOLPrice(priceUSD float64) {
	if priceUSD <= 0 {
		return
	}
	l.mu.Lock()
	l.solPriceUSD = priceUSD
	l.mu.Unlock()
}

// SOLPrice returns the current SOL/USD rate.
func (l *Ledger) SOLPrice() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.solPriceUSD
}

// Open applies a buy: creates a position on the first entry, otherwise
// appends an entry and recomputes the weighted average entry price.
func (l *Ledger) Open(signal *types.Signal, tx string, solAmount float64, tokenAmount float64, manual bool) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	priceSOL := 0.0
	if tokenAmount > 0 {
		priceSOL = solAmount / tokenAmount
	}
	entry := Entry{
		SolAmount:   solAmount,
		TokenAmount: tokenAmount,
		Price:       priceSOL,
		PriceUSD:    priceSOL * l.solPriceUSD,
		Tx:          tx,
		Timestamp:   time.Now(),
	}

	pos, exists := l.positions[signal.TokenMint]
	if exists {
		pos.Entries = append(pos.Entries, entry)
		pos.TokenAmount += tokenAmount
		pos.InitialTokenAmount += tokenAmount
		pos.EntryAmountSOL += solAmount
		pos.SolInvested += solAmount
		pos.recomputeWeightedEntry()

		l.logger.Info("Added entry to position",
			zap.String("token", signal.TokenMint),
			zap.Int("entries", len(pos.Entries)),
			zap.Float64("weighted_entry_usd", pos.EntryPriceUSD))
		return pos
	}

	pos = &Position{
		Token:              signal.TokenMint,
		Entries:            []Entry{entry},
		EntryPriceUSD:      entry.PriceUSD,
		TokenAmount:        tokenAmount,
		InitialTokenAmount: tokenAmount,
		EntryAmountSOL:     solAmount,
		SolInvested:        solAmount,
		Status:             StatusOpen,
		CurrentPriceUSD:    entry.PriceUSD,
		Manual:             manual,
		OpenedAt:           time.Now(),
		EntryTx:            tx,
	}
	l.positions[signal.TokenMint] = pos

	l.logger.Info("Position opened",
		zap.String("token", signal.TokenMint),
		zap.Float64("sol_amount", solAmount),
		zap.Float64("token_amount", tokenAmount),
		zap.Float64("entry_price_usd", entry.PriceUSD),
		zap.Bool("manual", manual))
	return pos
}

// UpdatePrice recomputes unrealized P&L for a token at the given USD price.
// Idempotent and safe to interleave with the signal path. Missing position
// is a no-op.
func (l *Ledger) UpdatePrice(token string, priceUSD float64) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[token]
	if !ok {
		return nil
	}

	pos.CurrentPriceUSD = priceUSD

	remainingValueSOL := 0.0
	if l.solPriceUSD > 0 {
		remainingValueSOL = pos.TokenAmount * priceUSD / l.solPriceUSD
	}
	pos.UnrealizedPnL = remainingValueSOL + pos.realizedSOL() - pos.EntryAmountSOL

	pnlPercent := 0.0
	if pos.EntryAmountSOL > 0 {
		pnlPercent = pos.UnrealizedPnL / pos.EntryAmountSOL * 100
	}
	pos.PnLPercent = l.clampPnLPercent(token, pnlPercent)

	return pos
}

// clampPnLPercent caps extreme P&L readings produced by bad price ticks.
// The value is capped, never fatal.
func (l *Ledger) clampPnLPercent(token string, pnlPercent float64) float64 {
	if l.maxPnLPercent <= 0 {
		return pnlPercent
	}
	if math.Abs(pnlPercent) > l.maxPnLPercent {
		l.logger.Warn("P&L sanity clamp triggered",
			zap.String("token", token),
			zap.Float64("raw_pnl_percent", pnlPercent),
			zap.Float64("clamp", l.maxPnLPercent))
		if pnlPercent > 0 {
			return l.maxPnLPercent
		}
		return -l.maxPnLPercent
	}
	return pnlPercent
}

// ProportionalExit mirrors the target wallet's own sell proportion: the
// replica sheds the same percentage the trader shed.
func (l *Ledger) ProportionalExit(token string, traderSoldTokens, traderTotalTokens, priceUSD float64, tx string) *PartialExit {
	if traderTotalTokens <= 0 {
		l.logger.Warn("Proportional exit with zero trader holdings ignored",
			zap.String("token", token))
		return nil
	}
	percent := traderSoldTokens / traderTotalTokens * 100
	return l.PartialExit(token, percent, priceUSD, tx, "mirror trader sell")
}

// PartialExit reduces a position by a percentage of its remaining tokens,
// recording realized proceeds. Reaching zero delegates to Close.
func (l *Ledger) PartialExit(token string, percent, priceUSD float64, tx, reason string) *PartialExit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.partialExitLocked(token, percent, priceUSD, tx, reason)
}

func (l *Ledger) partialExitLocked(token string, percent, priceUSD float64, tx, reason string) *PartialExit {
	pos, ok := l.positions[token]
	if !ok {
		l.logger.Warn("Partial exit for unknown position ignored",
			zap.String("token", token))
		return nil
	}
	if percent <= 0 {
		return nil
	}
	if percent > 100 {
		percent = 100
	}

	tokensSold := pos.TokenAmount * percent / 100
	solReceived := 0.0
	if l.solPriceUSD > 0 {
		solReceived = tokensSold * priceUSD / l.solPriceUSD
	}
	solReduced := pos.SolInvested * percent / 100
	pnl := solReceived - solReduced
	pnlPercent := 0.0
	if solReduced > 0 {
		pnlPercent = pnl / solReduced * 100
	}

	exit := PartialExit{
		Percentage:  percent,
		TokensSold:  tokensSold,
		SolReduced:  solReduced,
		SolReceived: solReceived,
		ExitPrice:   priceUSD,
		PnL:         pnl,
		PnLPercent:  pnlPercent,
		Tx:          tx,
		Timestamp:   time.Now(),
		Reason:      reason,
	}

	pos.PartialExits = append(pos.PartialExits, exit)
	pos.TokenAmount -= tokensSold
	if pos.TokenAmount < 0 {
		pos.TokenAmount = 0
	}
	pos.SolInvested -= solReduced
	if pos.SolInvested < 0 {
		pos.SolInvested = 0
	}

	l.addRealized(pnl)

	l.logger.Info("Partial exit",
		zap.String("token", token),
		zap.Float64("percent", percent),
		zap.Float64("tokens_sold", tokensSold),
		zap.Float64("sol_received", solReceived),
		zap.Float64("pnl", pnl),
		zap.String("reason", reason))

	if pos.TokenAmount <= closeDustTokens {
		l.closeLocked(pos, priceUSD, tx, false)
	} else {
		pos.Status = StatusPartial
	}

	return &exit
}

// Close finalizes a position at the given USD price and moves it to the
// closed history. Missing position is a no-op.
func (l *Ledger) Close(token string, priceUSD float64, tx string) *Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[token]
	if !ok {
		l.logger.Warn("Close for unknown position ignored",
			zap.String("token", token))
		return nil
	}
	l.closeLocked(pos, priceUSD, tx, true)
	return pos
}

// closeLocked finalizes P&L: remaining token value plus all realized
// partial-exit proceeds minus total invested. Partial-exit P&L is already in
// the daily figure, so only the remaining chunk is added here.
func (l *Ledger) closeLocked(pos *Position, priceUSD float64, tx string, countRemaining bool) {
	remainingValueSOL := 0.0
	if l.solPriceUSD > 0 && pos.TokenAmount > 0 {
		remainingValueSOL = pos.TokenAmount * priceUSD / l.solPriceUSD
	}

	pos.FinalPnL = remainingValueSOL + pos.realizedSOL() - pos.EntryAmountSOL
	if pos.EntryAmountSOL > 0 {
		pos.PnLPercent = l.clampPnLPercent(pos.Token, pos.FinalPnL/pos.EntryAmountSOL*100)
	}

	if countRemaining {
		l.addRealized(remainingValueSOL - pos.SolInvested)
	}

	if pos.FinalPnL >= 0 {
		l.wins++
	} else {
		l.losses++
	}

	pos.Status = StatusClosed
	pos.ClosedAt = time.Now()
	pos.CloseTx = tx
	pos.CurrentPriceUSD = priceUSD
	pos.TokenAmount = 0
	pos.SolInvested = 0

	delete(l.positions, pos.Token)
	l.closed = append(l.closed, pos)

	l.logger.Info("Position closed",
		zap.String("token", pos.Token),
		zap.Float64("final_pnl", pos.FinalPnL),
		zap.Float64("pnl_percent", pos.PnLPercent),
		zap.String("tx", tx))
}

// addRealized accumulates realized P&L into the rolling daily figure.
func (l *Ledger) addRealized(pnl float64) {
	l.rolloverLocked()
	l.dailyRealized += pnl
}

// rolloverLocked resets daily stats on date change. Caller holds the lock.
func (l *Ledger) rolloverLocked() {
	today := time.Now().Format("2006-01-02")
	if today != l.dailyDay {
		l.dailyDay = today
		l.dailyRealized = 0
	}
}

// IsHolding reports whether an open or partial position exists for the token.
func (l *Ledger) IsHolding(token string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[token]
	return ok
}

// OpenCount returns the number of live positions.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// DailyPnL returns today's realized P&L in SOL.
func (l *Ledger) DailyPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.dailyRealized
}

// Position returns the live position for a token, or nil.
func (l *Ledger) Position(token string) *Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.positions[token]
}

// Positions returns a snapshot slice of all live positions.
func (l *Ledger) Positions() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos)
	}
	return out
}

// Tokens returns the mints of all live positions.
func (l *Ledger) Tokens() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.positions))
	for token := range l.positions {
		out = append(out, token)
	}
	return out
}

// ClosedPositions returns the closed-position history, oldest first.
func (l *Ledger) ClosedPositions() []*Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Position, len(l.closed))
	copy(out, l.closed)
	return out
}

// Stats is a point-in-time summary for dashboards and events.
type Stats struct {
	OpenPositions int     `json:"open_positions"`
	ClosedTrades  int     `json:"closed_trades"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"` // percent
	DailyPnL      float64 `json:"daily_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	SOLPriceUSD   float64 `json:"sol_price_usd"`
}

// Stats assembles the current summary.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	var unrealized float64
	for _, pos := range l.positions {
		unrealized += pos.UnrealizedPnL
	}

	s := Stats{
		OpenPositions: len(l.positions),
		ClosedTrades:  len(l.closed),
		Wins:          l.wins,
		Losses:        l.losses,
		DailyPnL:      l.dailyRealized,
		UnrealizedPnL: unrealized,
		SOLPriceUSD:   l.solPriceUSD,
	}
	if total := l.wins + l.losses; total > 0 {
		s.WinRate = float64(l.wins) / float64(total) * 100
	}
	return s
}
