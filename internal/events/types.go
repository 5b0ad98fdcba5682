// internal/events/types.go
package events

import (
	"time"

	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/types"
)

// EventType represents the type of event.
type EventType string

const (
	// Signal pipeline events
	SignalDetected EventType = "signal"
	SignalRejected EventType = "signal.rejected"

	// Position lifecycle events
	PositionOpened EventType = "position_opened"
	PositionUpdate EventType = "position_update"
	PositionClosed EventType = "position_closed"
	PartialExit    EventType = "partial_exit"

	// Execution events
	TradeExecuted EventType = "trade_execution"

	// Periodic summary
	StatsUpdate EventType = "stats_update"

	// Operator attention required, e.g. a sell that failed at max slippage
	ManualIntervention EventType = "manual_intervention"

	// Monitor connectivity
	MonitorConnected    EventType = "monitor.connected"
	MonitorDisconnected EventType = "monitor.disconnected"
)

// AllTypes lists every event type, for subscribers that mirror the whole
// stream, like the dashboard hub.
func AllTypes() []EventType {
	return []EventType{
		SignalDetected, SignalRejected,
		PositionOpened, PositionUpdate, PositionClosed, PartialExit,
		TradeExecuted, StatsUpdate, ManualIntervention,
		MonitorConnected, MonitorDisconnected,
	}
}

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	EventTime time.Time `json:"timestamp"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// base stamps a new BaseEvent with the current time.
func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// SignalEvent is emitted for every decoded target-wallet swap, accepted or not.
type SignalEvent struct {
	BaseEvent
	Signal *types.Signal `json:"signal"`
}

// NewSignalEvent wraps a decoded signal.
func NewSignalEvent(signal *types.Signal) SignalEvent {
	return SignalEvent{BaseEvent: base(SignalDetected), Signal: signal}
}

// SignalRejectedEvent is emitted when the gate turns a signal away.
type SignalRejectedEvent struct {
	BaseEvent
	Signal *types.Signal `json:"signal"`
	Reason string        `json:"reason"`
}

// NewSignalRejectedEvent records a gate rejection.
func NewSignalRejectedEvent(signal *types.Signal, reason string) SignalRejectedEvent {
	return SignalRejectedEvent{BaseEvent: base(SignalRejected), Signal: signal, Reason: reason}
}

// PositionOpenedEvent is emitted when a replica position is created or topped
// up by a manual buy.
type PositionOpenedEvent struct {
	BaseEvent
	Position *ledger.Position `json:"position"`
}

// NewPositionOpenedEvent wraps a freshly opened position.
func NewPositionOpenedEvent(pos *ledger.Position) PositionOpenedEvent {
	return PositionOpenedEvent{BaseEvent: base(PositionOpened), Position: pos}
}

// PositionUpdateEvent carries refreshed unrealized P&L for one position.
type PositionUpdateEvent struct {
	BaseEvent
	Position *ledger.Position `json:"position"`
}

// NewPositionUpdateEvent wraps a price-refreshed position.
func NewPositionUpdateEvent(pos *ledger.Position) PositionUpdateEvent {
	return PositionUpdateEvent{BaseEvent: base(PositionUpdate), Position: pos}
}

// PositionClosedEvent is emitted when a position is fully exited.
type PositionClosedEvent struct {
	BaseEvent
	Position *ledger.Position `json:"position"`
	Reason   string           `json:"reason"`
}

// NewPositionClosedEvent wraps a closed position with the close reason.
func NewPositionClosedEvent(pos *ledger.Position, reason string) PositionClosedEvent {
	return PositionClosedEvent{BaseEvent: base(PositionClosed), Position: pos, Reason: reason}
}

// PartialExitEvent is emitted for each proportional or manual partial exit.
type PartialExitEvent struct {
	BaseEvent
	Token string              `json:"token"`
	Exit  *ledger.PartialExit `json:"exit"`
}

// NewPartialExitEvent wraps one recorded partial exit.
func NewPartialExitEvent(token string, exit *ledger.PartialExit) PartialExitEvent {
	return PartialExitEvent{BaseEvent: base(PartialExit), Token: token, Exit: exit}
}

// TradeExecutedEvent reports the outcome of one replica trade submission. It
// carries the full execution record so the persistence subscriber needs no
// other source.
type TradeExecutedEvent struct {
	BaseEvent
	Side        types.TradeAction `json:"side"`
	TokenMint   string            `json:"token_mint"`
	SolAmount   float64           `json:"sol_amount"`
	SlippageBps int               `json:"slippage_bps"`
	Signature   string            `json:"signature"`
	Success     bool              `json:"success"`
	Paper       bool              `json:"paper"`
	Error       string            `json:"error,omitempty"`
}

// NewTradeExecutedEvent records a submission result.
func NewTradeExecutedEvent(side types.TradeAction, mint string, solAmount float64, result types.ExecutionResult) TradeExecutedEvent {
	ev := TradeExecutedEvent{
		BaseEvent:   base(TradeExecuted),
		Side:        side,
		TokenMint:   mint,
		SolAmount:   solAmount,
		SlippageBps: result.SlippageBps,
		Signature:   result.Signature,
		Success:     result.Success,
		Paper:       result.Paper,
	}
	if result.Err != nil {
		ev.Error = result.Err.Error()
	}
	return ev
}

// StatsUpdateEvent is the periodic ledger summary.
type StatsUpdateEvent struct {
	BaseEvent
	Stats ledger.Stats `json:"stats"`
}

// NewStatsUpdateEvent wraps a ledger snapshot.
func NewStatsUpdateEvent(stats ledger.Stats) StatsUpdateEvent {
	return StatsUpdateEvent{BaseEvent: base(StatsUpdate), Stats: stats}
}

// ManualInterventionEvent signals that automation gave up on a trade and an
// operator must act.
type ManualInterventionEvent struct {
	BaseEvent
	TokenMint string `json:"token_mint"`
	Detail    string `json:"detail"`
}

// NewManualInterventionEvent flags a trade needing operator action.
func NewManualInterventionEvent(mint, detail string) ManualInterventionEvent {
	return ManualInterventionEvent{BaseEvent: base(ManualIntervention), TokenMint: mint, Detail: detail}
}

// MonitorStateEvent reports monitor connectivity transitions.
type MonitorStateEvent struct {
	BaseEvent
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// NewMonitorStateEvent records a monitor connect or disconnect.
func NewMonitorStateEvent(connected bool, detail string) MonitorStateEvent {
	t := MonitorConnected
	if !connected {
		t = MonitorDisconnected
	}
	return MonitorStateEvent{BaseEvent: base(t), Connected: connected, Detail: detail}
}
