// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/storage"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id           BIGSERIAL PRIMARY KEY,
	tx_signature TEXT NOT NULL UNIQUE,
	wallet       TEXT NOT NULL,
	action       TEXT NOT NULL,
	token_mint   TEXT NOT NULL,
	token_amount DOUBLE PRECISION NOT NULL,
	sol_amount   DOUBLE PRECISION NOT NULL,
	price        DOUBLE PRECISION NOT NULL,
	detected_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
	id           BIGSERIAL PRIMARY KEY,
	signature    TEXT NOT NULL,
	side         TEXT NOT NULL,
	token_mint   TEXT NOT NULL,
	sol_amount   DOUBLE PRECISION NOT NULL,
	slippage_bps INT NOT NULL,
	success      BOOLEAN NOT NULL,
	paper        BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	executed_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS closed_positions (
	id               BIGSERIAL PRIMARY KEY,
	token_mint       TEXT NOT NULL,
	entry_amount_sol DOUBLE PRECISION NOT NULL,
	entry_price_usd  DOUBLE PRECISION NOT NULL,
	final_pnl_sol    DOUBLE PRECISION NOT NULL,
	pnl_percent      DOUBLE PRECISION NOT NULL,
	partial_exits    INT NOT NULL,
	manual           BOOLEAN NOT NULL,
	opened_at        TIMESTAMPTZ NOT NULL,
	closed_at        TIMESTAMPTZ NOT NULL,
	entry_tx         TEXT NOT NULL,
	close_tx         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_detected_at ON signals (detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_closed_positions_closed_at ON closed_positions (closed_at DESC);
`

// Store is the PostgreSQL-backed trail.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ storage.Store = (*Store)(nil)

// Connect opens a pool against the database and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Named("storage").Info("Database connected")
	return &Store{pool: pool, logger: logger.Named("storage")}, nil
}

// SaveSignal records a decoded target-wallet swap. Replays of the same
// transaction are ignored.
func (s *Store) SaveSignal(ctx context.Context, signal *types.Signal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO signals (tx_signature, wallet, action, token_mint, token_amount, sol_amount, price, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tx_signature) DO NOTHING`,
		signal.TxSignature, signal.Wallet, string(signal.Action), signal.TokenMint,
		signal.TokenAmount, signal.SolAmount, signal.Price, signal.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save signal %s: %w", signal.TxSignature, err)
	}
	return nil
}

// SaveExecution records one replica trade submission.
func (s *Store) SaveExecution(ctx context.Context, record *storage.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (signature, side, token_mint, sol_amount, slippage_bps, success, paper, error, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.Signature, string(record.Side), record.TokenMint, record.SolAmount,
		record.SlippageBps, record.Success, record.Paper, record.Error, record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", record.Signature, err)
	}
	return nil
}

// SaveClosedPosition records a finalized position.
func (s *Store) SaveClosedPosition(ctx context.Context, pos *ledger.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO closed_positions (token_mint, entry_amount_sol, entry_price_usd, final_pnl_sol, pnl_percent, partial_exits, manual, opened_at, closed_at, entry_tx, close_tx)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pos.Token, pos.EntryAmountSOL, pos.EntryPriceUSD, pos.FinalPnL, pos.PnLPercent,
		len(pos.PartialExits), pos.Manual, pos.OpenedAt, pos.ClosedAt, pos.EntryTx, pos.CloseTx)
	if err != nil {
		return fmt.Errorf("failed to save closed position %s: %w", pos.Token, err)
	}
	return nil
}

// RecentSignals returns the newest signals, newest first.
func (s *Store) RecentSignals(ctx context.Context, limit int) ([]*types.Signal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tx_signature, wallet, action, token_mint, token_amount, sol_amount, price, detected_at
		 FROM signals ORDER BY detected_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []*types.Signal
	for rows.Next() {
		var sig types.Signal
		var action string
		if err := rows.Scan(&sig.TxSignature, &sig.Wallet, &action, &sig.TokenMint,
			&sig.TokenAmount, &sig.SolAmount, &sig.Price, &sig.Timestamp); err != nil {
			return nil, err
		}
		sig.Action = types.TradeAction(action)
		signals = append(signals, &sig)
	}
	return signals, rows.Err()
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
