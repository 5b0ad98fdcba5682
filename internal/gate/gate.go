// internal/gate/gate.go
package gate

import (
	"fmt"

	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// Rejection reasons, stable strings used in events and logs.
const (
	ReasonNotNewEntry   = "not a new entry"
	ReasonBelowMinSize  = "below min trade size"
	ReasonAlreadyHeld   = "already holding"
	ReasonMaxPositions  = "max positions"
	ReasonDailyLossStop = "daily loss limit"
	ReasonGlobalStop    = "trading stopped"
	ReasonNoPosition    = "no position to exit"
)

// LedgerView is the read-only slice of the position ledger the gate needs.
type LedgerView interface {
	IsHolding(tokenMint string) bool
	OpenCount() int
	DailyPnL() float64
}

// Config carries the rule thresholds.
type Config struct {
	MinTradeSizeSOL float64
	MaxPositions    int
	MaxDailyLoss    float64 // fraction of starting balance, e.g. 0.1
	StartingBalance float64
}

// Decision is the gate verdict for one signal.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func reject(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate applies the rule chain to a signal. It is pure: no side effects
// beyond logging, first failing rule wins.
func Evaluate(signal *types.Signal, view LedgerView, cfg Config, stopped bool, logger *zap.Logger) Decision {
	decision := evaluate(signal, view, cfg, stopped)
	if !decision.Allowed {
		logger.Info("Signal rejected",
			zap.String("signature", signal.TxSignature),
			zap.String("action", string(signal.Action)),
			zap.String("token", signal.TokenMint),
			zap.String("reason", decision.Reason))
	}
	return decision
}

func evaluate(signal *types.Signal, view LedgerView, cfg Config, stopped bool) Decision {
	if stopped {
		return reject(ReasonGlobalStop)
	}

	if signal.Action == types.ActionSell {
		// Sells only make sense against an existing replica position; the
		// buy-side rules below don't apply.
		if !view.IsHolding(signal.TokenMint) {
			return reject(ReasonNoPosition)
		}
		return allow()
	}

	// The trader topping up an existing bag is not a fresh conviction entry.
	if signal.TraderTotalTokensBeforeTrade > signal.TokenAmount {
		return reject(ReasonNotNewEntry)
	}

	if signal.SolAmount < cfg.MinTradeSizeSOL {
		return reject(ReasonBelowMinSize)
	}

	if view.IsHolding(signal.TokenMint) {
		return reject(ReasonAlreadyHeld)
	}

	if view.OpenCount() >= cfg.MaxPositions {
		return reject(ReasonMaxPositions)
	}

	if cfg.MaxDailyLoss > 0 && cfg.StartingBalance > 0 {
		if view.DailyPnL()/cfg.StartingBalance < -cfg.MaxDailyLoss {
			return reject(ReasonDailyLossStop)
		}
	}

	return allow()
}

// String implements fmt.Stringer for log-friendly decisions.
func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("rejected: %s", d.Reason)
}
