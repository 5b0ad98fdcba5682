// internal/orchestrator/signals.go
package orchestrator

import (
	"context"
	"errors"

	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/executor"
	"github.com/solmirror/mirror-bot/internal/gate"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/parser"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// handleTransaction runs one raw transaction through parse, gate and
// execution.
func (o *Orchestrator) handleTransaction(ctx context.Context, raw types.RawTransaction) {
	signal, err := o.parser.Parse(raw)
	if err != nil {
		if !errors.Is(err, parser.ErrWalletNotInvolved) && !errors.Is(err, parser.ErrNotSwap) {
			o.metrics.ParseFailures.Inc()
			o.logger.Debug("Transaction not parseable",
				zap.String("signature", raw.Signature),
				zap.Error(err))
		}
		return
	}

	o.metrics.SignalsTotal.WithLabelValues(string(signal.Action)).Inc()
	o.publish(events.NewSignalEvent(signal))

	if o.paused.Load() {
		o.logger.Info("Paused, signal not mirrored",
			zap.String("signature", signal.TxSignature))
		return
	}

	decision := gate.Evaluate(signal, o.ledger, o.gateConfig(), o.stopped.Load(), o.logger)
	if !decision.Allowed {
		o.metrics.SignalsRejected.WithLabelValues(decision.Reason).Inc()
		o.publish(events.NewSignalRejectedEvent(signal, decision.Reason))
		return
	}

	switch signal.Action {
	case types.ActionBuy:
		o.mirrorBuy(ctx, signal)
	case types.ActionSell:
		o.mirrorSell(ctx, signal)
	}
}

// mirrorBuy opens a replica position sized by configuration, not by the
// trader's notional.
func (o *Orchestrator) mirrorBuy(ctx context.Context, signal *types.Signal) {
	sizeSOL := o.positionSize()
	lamports := uint64(sizeSOL * types.LamportsPerSOL)

	result := o.executor.Buy(ctx, signal.TokenMint, lamports)
	o.publish(events.NewTradeExecutedEvent(types.ActionBuy, signal.TokenMint, sizeSOL, result))

	if !result.Success {
		o.metrics.TradesTotal.WithLabelValues("buy", "failed").Inc()
		o.logger.Error("Mirror buy failed",
			zap.String("token", signal.TokenMint),
			zap.Error(result.Err))
		return
	}
	o.metrics.TradesTotal.WithLabelValues("buy", "success").Inc()

	// Replica token quantity scales with our size at the trader's fill price.
	tokenAmount := 0.0
	if signal.Price > 0 {
		tokenAmount = sizeSOL / signal.Price
	}

	pos := o.ledger.Open(signal, result.Signature, sizeSOL, tokenAmount, false)
	o.publish(events.NewPositionOpenedEvent(pos))
}

// mirrorSell sheds the same fraction the trader shed.
func (o *Orchestrator) mirrorSell(ctx context.Context, signal *types.Signal) {
	if signal.TraderTotalTokensBeforeTrade <= 0 {
		o.logger.Warn("Sell signal without holdings context, skipping",
			zap.String("signature", signal.TxSignature))
		return
	}
	percent := signal.TraderSoldTokens / signal.TraderTotalTokensBeforeTrade * 100
	if percent > 100 {
		percent = 100
	}

	result := o.sellPercent(ctx, signal.TokenMint, percent)

	if !result.Success {
		o.metrics.TradesTotal.WithLabelValues("sell", "failed").Inc()
		o.publish(events.NewTradeExecutedEvent(types.ActionSell, signal.TokenMint, 0, result))
		o.surfaceSellFailure(signal.TokenMint, result)
		return
	}
	o.metrics.TradesTotal.WithLabelValues("sell", "success").Inc()

	priceUSD := signal.Price * o.ledger.SOLPrice()
	exit := o.ledger.ProportionalExit(signal.TokenMint,
		signal.TraderSoldTokens, signal.TraderTotalTokensBeforeTrade,
		priceUSD, result.Signature)

	solReceived := 0.0
	if exit != nil {
		solReceived = exit.SolReceived
		o.publish(events.NewPartialExitEvent(signal.TokenMint, exit))
	}
	o.publish(events.NewTradeExecutedEvent(types.ActionSell, signal.TokenMint, solReceived, result))
	if !o.ledger.IsHolding(signal.TokenMint) {
		if closed := o.lastClosed(signal.TokenMint); closed != nil {
			o.publish(events.NewPositionClosedEvent(closed, "mirror trader sell"))
		}
	}
}

// sellPercent swaps a fraction of the wallet's token balance back to SOL. In
// paper mode the executor fabricates the fill from a real quote.
func (o *Orchestrator) sellPercent(ctx context.Context, tokenMint string, percent float64) types.ExecutionResult {
	rawBalance, err := o.executor.TokenBalanceRaw(ctx, tokenMint)
	if err != nil {
		return types.ExecutionResult{Err: err}
	}

	rawAmount := uint64(float64(rawBalance) * percent / 100)
	if rawAmount == 0 {
		// Paper mode has no on-chain balance; quote a nominal unit so the
		// executor path still runs end to end.
		rawAmount = 1_000_000
	}
	return o.executor.Sell(ctx, tokenMint, rawAmount)
}

// surfaceSellFailure raises manual-intervention alerts for exits automation
// could not complete.
func (o *Orchestrator) surfaceSellFailure(tokenMint string, result types.ExecutionResult) {
	detail := "sell failed"
	if result.Err != nil {
		detail = result.Err.Error()
	}
	o.logger.Error("Mirror sell failed",
		zap.String("token", tokenMint),
		zap.Error(result.Err))

	if errors.Is(result.Err, executor.ErrManualIntervention) {
		o.alerts.ManualIntervention(tokenMint, detail)
		o.publish(events.NewManualInterventionEvent(tokenMint, detail))
	}
}

// lastClosed finds the most recent closed position for a token.
func (o *Orchestrator) lastClosed(tokenMint string) *ledger.Position {
	history := o.ledger.ClosedPositions()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Token == tokenMint {
			return history[i]
		}
	}
	return nil
}

