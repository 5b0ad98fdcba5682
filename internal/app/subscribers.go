// internal/app/subscribers.go
package app

import (
	"context"

	"github.com/solmirror/mirror-bot/internal/alerts"
	"github.com/solmirror/mirror-bot/internal/broadcast"
	"github.com/solmirror/mirror-bot/internal/events"
	"github.com/solmirror/mirror-bot/internal/storage"
	"go.uber.org/zap"
)

// wireSubscribers connects the bus to its consumers. The orchestrator only
// publishes; the dashboard, alerting and persistence all read from here, so
// a slow or absent consumer never touches the signal path.
func wireSubscribers(bus *events.Bus, hub *broadcast.Hub, store storage.Store, alertManager *alerts.Manager, logger *zap.Logger) {
	log := logger.Named("subscribers")

	if hub != nil {
		for _, eventType := range events.AllTypes() {
			bus.SubscribeFunc(eventType, func(_ context.Context, ev events.Event) error {
				hub.Broadcast(ev)
				return nil
			})
		}
	}

	if alertManager != nil {
		bus.SubscribeFunc(events.SignalDetected, func(_ context.Context, ev events.Event) error {
			if e, ok := ev.(events.SignalEvent); ok {
				alertManager.CheckSignal(e.Signal)
			}
			return nil
		})
		bus.SubscribeFunc(events.PositionUpdate, func(_ context.Context, ev events.Event) error {
			if e, ok := ev.(events.PositionUpdateEvent); ok {
				alertManager.CheckPosition(e.Position)
			}
			return nil
		})
	}

	if store == nil {
		return
	}
	bus.SubscribeFunc(events.SignalDetected, func(ctx context.Context, ev events.Event) error {
		e, ok := ev.(events.SignalEvent)
		if !ok {
			return nil
		}
		if err := store.SaveSignal(ctx, e.Signal); err != nil {
			log.Warn("Failed to persist signal", zap.Error(err))
		}
		return nil
	})
	bus.SubscribeFunc(events.PositionClosed, func(ctx context.Context, ev events.Event) error {
		e, ok := ev.(events.PositionClosedEvent)
		if !ok {
			return nil
		}
		if err := store.SaveClosedPosition(ctx, e.Position); err != nil {
			log.Warn("Failed to persist closed position", zap.Error(err))
		}
		return nil
	})
	bus.SubscribeFunc(events.TradeExecuted, func(ctx context.Context, ev events.Event) error {
		e, ok := ev.(events.TradeExecutedEvent)
		if !ok {
			return nil
		}
		record := &storage.ExecutionRecord{
			Signature:   e.Signature,
			Side:        e.Side,
			TokenMint:   e.TokenMint,
			SolAmount:   e.SolAmount,
			SlippageBps: e.SlippageBps,
			Success:     e.Success,
			Paper:       e.Paper,
			Error:       e.Error,
			Timestamp:   e.Timestamp(),
		}
		if err := store.SaveExecution(ctx, record); err != nil {
			log.Warn("Failed to persist execution", zap.Error(err))
		}
		return nil
	})
}
