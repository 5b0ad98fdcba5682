package alerts

import (
	"testing"
	"time"

	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMint = "TokenMint1111111111111111111111111111111111"

func testManager() *Manager {
	cfg := DefaultConfig()
	cfg.Cooldown = time.Minute
	return New(cfg, zap.NewNop())
}

func position(pnlPercent float64) *ledger.Position {
	return &ledger.Position{Token: testMint, PnLPercent: pnlPercent}
}

func TestLossLimitAlert(t *testing.T) {
	m := testManager()

	triggered := m.CheckPosition(position(-25))
	require.Len(t, triggered, 1)
	assert.Equal(t, AlertTypeLossLimit, triggered[0].Type)
	assert.Equal(t, "critical", triggered[0].Severity)
}

func TestPriceDropBelowLossLimitPicksStricterAlert(t *testing.T) {
	m := testManager()

	// -12% trips the drop warning but not the -20% loss limit.
	triggered := m.CheckPosition(position(-12))
	require.Len(t, triggered, 1)
	assert.Equal(t, AlertTypePriceDrop, triggered[0].Type)
}

func TestProfitTargetAlert(t *testing.T) {
	m := testManager()

	triggered := m.CheckPosition(position(60))
	require.Len(t, triggered, 1)
	assert.Equal(t, AlertTypeProfitTarget, triggered[0].Type)
	assert.Equal(t, "info", triggered[0].Severity)
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	m := testManager()

	require.Len(t, m.CheckPosition(position(-25)), 1)
	assert.Empty(t, m.CheckPosition(position(-30)), "second alert inside cooldown must be suppressed")
}

func TestQuietPositionTriggersNothing(t *testing.T) {
	m := testManager()
	assert.Empty(t, m.CheckPosition(position(3)))
}

func TestLargeTradeAlert(t *testing.T) {
	m := testManager()

	signal := &types.Signal{Action: types.ActionBuy, TokenMint: testMint, SolAmount: 25}
	triggered := m.CheckSignal(signal)
	require.Len(t, triggered, 1)
	assert.Equal(t, AlertTypeLargeTrade, triggered[0].Type)

	assert.Empty(t, m.CheckSignal(&types.Signal{TokenMint: testMint, SolAmount: 1}))
}

func TestManualInterventionBypassesCooldown(t *testing.T) {
	m := testManager()

	m.CheckPosition(position(-25)) // starts the cooldown for testMint
	alert := m.ManualIntervention(testMint, "sell failed at max slippage")
	assert.Equal(t, AlertTypeManualAction, alert.Type)
	assert.Equal(t, "critical", alert.Severity)
}

func TestHandlersReceiveAlerts(t *testing.T) {
	m := testManager()

	received := make(chan Alert, 1)
	m.AddHandler(func(a Alert) { received <- a })

	m.CheckPosition(position(-25))
	select {
	case a := <-received:
		assert.Equal(t, AlertTypeLossLimit, a.Type)
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}
}

func TestRecentReturnsNewestAlerts(t *testing.T) {
	m := testManager()
	m.CheckPosition(position(-25))
	m.ManualIntervention(testMint, "check this")

	recent := m.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, AlertTypeManualAction, recent[0].Type)
}
