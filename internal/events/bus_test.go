package events

import (
	"context"
	"testing"
	"time"

	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 1)
	bus.SubscribeFunc(SignalDetected, func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})

	signal := &types.Signal{Action: types.ActionBuy, TokenMint: "mintA", TxSignature: "sig-1"}
	require.NoError(t, bus.Publish(NewSignalEvent(signal)))

	select {
	case ev := <-received:
		assert.Equal(t, SignalDetected, ev.Type())
		assert.Equal(t, "sig-1", ev.(SignalEvent).Signal.TxSignature)
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSubscribersAreTypeScoped(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 1)
	bus.SubscribeFunc(PositionClosed, func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})

	require.NoError(t, bus.Publish(NewSignalEvent(&types.Signal{TxSignature: "sig-x"})))

	select {
	case <-received:
		t.Fatal("handler for a different event type must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	defer bus.Shutdown(context.Background())

	received := make(chan Event, 2)
	sub := bus.SubscribeFunc(StatsUpdate, func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})

	require.NoError(t, bus.PublishSync(context.Background(), NewStatsUpdateEvent(ledger.Stats{})))
	sub.Unsubscribe()
	require.NoError(t, bus.PublishSync(context.Background(), NewStatsUpdateEvent(ledger.Stats{})))

	assert.Len(t, received, 1)
}

func TestPublishAfterShutdownFails(t *testing.T) {
	bus := NewBus(zap.NewNop(), 16)
	require.NoError(t, bus.Shutdown(context.Background()))

	assert.Error(t, bus.Publish(NewSignalEvent(&types.Signal{})))
}
