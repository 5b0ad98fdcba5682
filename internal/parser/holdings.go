// internal/parser/holdings.go
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Holdings tracks how many tokens a watched wallet holds per mint. It feeds
// the proportional-exit math: when the target sells, the ratio of sold
// tokens to prior holdings decides how much of our replica position goes.
//
// State is owned here, updated on every observed buy/sell, and seeded from
// the chain where possible. It is not shared mutable state: the parser is
// the only writer.
type Holdings struct {
	mu       sync.RWMutex
	balances map[string]float64 // wallet|mint -> UI token amount
	logger   *zap.Logger
}

// NewHoldings creates an empty holdings tracker.
func NewHoldings(logger *zap.Logger) *Holdings {
	return &Holdings{
		balances: make(map[string]float64),
		logger:   logger.Named("holdings"),
	}
}

func holdingsKey(wallet, mint string) string {
	return wallet + "|" + mint
}

// Get returns the tracked balance for a wallet/mint pair.
func (h *Holdings) Get(wallet, mint string) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.balances[holdingsKey(wallet, mint)]
}

// Set overwrites the tracked balance. Used when the chain reports an
// authoritative figure (a transaction's pre-balance or an RPC seed).
func (h *Holdings) Set(wallet, mint string, amount float64) {
	if amount < 0 {
		amount = 0
	}
	h.mu.Lock()
	h.balances[holdingsKey(wallet, mint)] = amount
	h.mu.Unlock()
}

// SeedFromChain reads the wallet's current balance for a mint from its
// associated token account. Best effort: a missing account simply means the
// wallet holds none.
func (h *Holdings) SeedFromChain(ctx context.Context, client *rpc.Client, wallet, mint string) error {
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return fmt.Errorf("invalid wallet %s: %w", wallet, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return fmt.Errorf("invalid mint %s: %w", mint, err)
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, mintKey)
	if err != nil {
		return fmt.Errorf("derive ATA: %w", err)
	}

	out, err := client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// No token account means no holdings; record zero so sells without
		// a visible pre-balance don't divide by stale data.
		h.Set(wallet, mint, 0)
		return nil
	}

	var amount float64
	if out != nil && out.Value != nil && out.Value.UiAmount != nil {
		amount = *out.Value.UiAmount
	}
	h.Set(wallet, mint, amount)
	h.logger.Debug("Seeded holdings from chain",
		zap.String("wallet", wallet),
		zap.String("mint", mint),
		zap.Float64("amount", amount))
	return nil
}

// parsedTokenAccount is the jsonParsed shape of an SPL token account, reduced
// to the fields seeding needs.
type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				UIAmount *float64 `json:"uiAmount"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// SeedWalletFromChain loads every token balance the wallet currently holds,
// so the first observed sell of a position opened before the bot started
// still computes the right exit fraction. Returns the number of mints seeded.
func (h *Holdings) SeedWalletFromChain(ctx context.Context, client *rpc.Client, wallet string) (int, error) {
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return 0, fmt.Errorf("invalid wallet %s: %w", wallet, err)
	}

	out, err := client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed})
	if err != nil {
		return 0, fmt.Errorf("fetch token accounts: %w", err)
	}

	seeded := 0
	for _, acc := range out.Value {
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		var parsed parsedTokenAccount
		if err := json.Unmarshal(acc.Account.Data.GetRawJSON(), &parsed); err != nil {
			h.logger.Debug("Undecodable token account", zap.Error(err))
			continue
		}
		info := parsed.Parsed.Info
		if info.Mint == "" || info.TokenAmount.UIAmount == nil {
			continue
		}
		h.Set(wallet, info.Mint, *info.TokenAmount.UIAmount)
		seeded++
	}

	h.logger.Info("Seeded trader holdings from chain",
		zap.String("wallet", wallet),
		zap.Int("mints", seeded))
	return seeded, nil
}

// Len returns the number of tracked wallet/mint pairs.
func (h *Holdings) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.balances)
}
