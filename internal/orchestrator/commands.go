// internal/orchestrator/commands.go
package orchestrator

import (
	"context"
	"time"

	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// handleCommand executes one operator instruction on the signal goroutine,
// so commands and mirrored trades never race over the ledger.
func (o *Orchestrator) handleCommand(ctx context.Context, cmd types.Command) {
	o.logger.Info("Handling command",
		zap.String("type", string(cmd.Type)),
		zap.String("token", cmd.TokenMint))

	switch cmd.Type {
	case types.CmdManualBuy:
		o.manualBuy(ctx, cmd)
	case types.CmdManualSell, types.CmdClosePosition:
		o.closePosition(ctx, cmd.TokenMint, "manual close")
	case types.CmdPartialExit:
		o.manualPartialExit(ctx, cmd)
	case types.CmdCloseAll:
		o.closeAll(ctx, "manual close all")
	case types.CmdPause:
		o.paused.Store(true)
		o.logger.Info("Mirroring paused")
	case types.CmdResume:
		o.paused.Store(false)
		o.stopped.Store(false)
		o.logger.Info("Mirroring resumed")
	case types.CmdUpdateConfig:
		o.updateRuntimeConfig(cmd.Params)
	case types.CmdEmergencyStop:
		o.emergencyStop(ctx)
	default:
		o.logger.Warn("Unknown command ignored", zap.String("type", string(cmd.Type)))
	}
}

// manualBuy opens or tops up a position outside the mirroring rules. Only
// the global stop is honored.
func (o *Orchestrator) manualBuy(ctx context.Context, cmd types.Command) {
	if o.stopped.Load() {
		o.logger.Warn("Manual buy refused, trading stopped")
		return
	}
	if cmd.TokenMint == "" {
		o.logger.Warn("Manual buy without token ignored")
		return
	}

	sizeSOL := cmd.SolAmount
	if sizeSOL <= 0 {
		sizeSOL = o.positionSize()
	}

	result := o.executor.Buy(ctx, cmd.TokenMint, uint64(sizeSOL*types.LamportsPerSOL))
	o.publish(events.NewTradeExecutedEvent(types.ActionBuy, cmd.TokenMint, sizeSOL, result))
	if !result.Success {
		o.logger.Error("Manual buy failed",
			zap.String("token", cmd.TokenMint),
			zap.Error(result.Err))
		return
	}

	// Without a trader fill price, value the entry at the current market
	// price when known.
	priceUSD := 0.0
	if priced, err := o.prices.Prices(ctx, []string{cmd.TokenMint}); err == nil {
		priceUSD = priced[cmd.TokenMint]
	}
	tokenAmount := 0.0
	if priceUSD > 0 && o.ledger.SOLPrice() > 0 {
		tokenAmount = sizeSOL * o.ledger.SOLPrice() / priceUSD
	}

	signal := &types.Signal{
		Action:      types.ActionBuy,
		TokenMint:   cmd.TokenMint,
		SolAmount:   sizeSOL,
		TokenAmount: tokenAmount,
		Price:       safeDiv(sizeSOL, tokenAmount),
		Timestamp:   time.Now(),
		TxSignature: result.Signature,
	}
	pos := o.ledger.Open(signal, result.Signature, sizeSOL, tokenAmount, true)
	o.publish(events.NewPositionOpenedEvent(pos))
}

// manualPartialExit sheds a requested percentage of one position.
func (o *Orchestrator) manualPartialExit(ctx context.Context, cmd types.Command) {
	pos := o.ledger.Position(cmd.TokenMint)
	if pos == nil {
		o.logger.Warn("Partial exit for unknown position", zap.String("token", cmd.TokenMint))
		return
	}
	percent := cmd.Percent
	if percent <= 0 || percent > 100 {
		o.logger.Warn("Invalid partial exit percent", zap.Float64("percent", percent))
		return
	}

	result := o.sellPercent(ctx, cmd.TokenMint, percent)
	if !result.Success {
		o.publish(events.NewTradeExecutedEvent(types.ActionSell, cmd.TokenMint, 0, result))
		o.surfaceSellFailure(cmd.TokenMint, result)
		return
	}

	exit := o.ledger.PartialExit(cmd.TokenMint, percent, pos.CurrentPriceUSD, result.Signature, "manual partial exit")
	solReceived := 0.0
	if exit != nil {
		solReceived = exit.SolReceived
		o.publish(events.NewPartialExitEvent(cmd.TokenMint, exit))
	}
	o.publish(events.NewTradeExecutedEvent(types.ActionSell, cmd.TokenMint, solReceived, result))
	if !o.ledger.IsHolding(cmd.TokenMint) {
		if closed := o.lastClosed(cmd.TokenMint); closed != nil {
			o.publish(events.NewPositionClosedEvent(closed, "manual partial exit"))
		}
	}
}

// closePosition exits one position completely.
func (o *Orchestrator) closePosition(ctx context.Context, tokenMint, reason string) {
	pos := o.ledger.Position(tokenMint)
	if pos == nil {
		o.logger.Warn("Close for unknown position", zap.String("token", tokenMint))
		return
	}

	result := o.sellPercent(ctx, tokenMint, 100)
	o.publish(events.NewTradeExecutedEvent(types.ActionSell, tokenMint, 0, result))
	if !result.Success {
		o.surfaceSellFailure(tokenMint, result)
		return
	}

	closed := o.ledger.Close(tokenMint, pos.CurrentPriceUSD, result.Signature)
	if closed != nil {
		o.publish(events.NewPositionClosedEvent(closed, reason))
	}
}

// closeAll exits every open position.
func (o *Orchestrator) closeAll(ctx context.Context, reason string) {
	tokens := o.ledger.Tokens()
	o.logger.Info("Closing all positions",
		zap.Int("count", len(tokens)),
		zap.String("reason", reason))
	for _, token := range tokens {
		o.closePosition(ctx, token, reason)
	}
}

// emergencyStop halts all mirroring and liquidates the book. Only an
// explicit resume lifts the stop.
func (o *Orchestrator) emergencyStop(ctx context.Context) {
	o.stopped.Store(true)
	o.logger.Error("EMERGENCY STOP triggered")
	o.alerts.ManualIntervention("", "emergency stop: closing all positions")
	o.closeAll(ctx, "emergency stop")
}

// updateRuntimeConfig applies tunable thresholds without a restart.
func (o *Orchestrator) updateRuntimeConfig(params map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for key, value := range params {
		switch key {
		case "position_size_sol":
			if value > 0 {
				o.positionSizeSOL = value
			}
		case "min_trade_size_sol":
			if value >= 0 {
				o.gateCfg.MinTradeSizeSOL = value
			}
		case "max_positions":
			if value >= 1 {
				o.gateCfg.MaxPositions = int(value)
			}
		case "max_daily_loss":
			if value >= 0 && value < 1 {
				o.gateCfg.MaxDailyLoss = value
			}
		default:
			o.logger.Warn("Unknown config parameter ignored", zap.String("key", key))
			continue
		}
		o.logger.Info("Runtime config updated",
			zap.String("key", key),
			zap.Float64("value", value))
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
