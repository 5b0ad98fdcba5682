// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/types"
)

// ExecutionRecord is one persisted replica trade submission.
type ExecutionRecord struct {
	Signature   string
	Side        types.TradeAction
	TokenMint   string
	SolAmount   float64
	SlippageBps int
	Success     bool
	Paper       bool
	Error       string
	Timestamp   time.Time
}

// Store persists the bot's trail: every decoded signal, every submission and
// every closed position.
type Store interface {
	SaveSignal(ctx context.Context, signal *types.Signal) error
	SaveExecution(ctx context.Context, record *ExecutionRecord) error
	SaveClosedPosition(ctx context.Context, pos *ledger.Position) error
	RecentSignals(ctx context.Context, limit int) ([]*types.Signal, error)
	Close()
}
