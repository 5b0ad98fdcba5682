// internal/monitor/convert.go
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/solmirror/mirror-bot/internal/types"
)

// convertRPCTransaction flattens an RPC getTransaction result into the
// internal raw form the parser consumes.
func convertRPCTransaction(signature string, source string, out *rpc.GetTransactionResult) (types.RawTransaction, error) {
	if out == nil || out.Meta == nil {
		return types.RawTransaction{}, fmt.Errorf("transaction %s has no metadata", signature)
	}
	if out.Meta.Err != nil {
		return types.RawTransaction{}, fmt.Errorf("transaction %s failed on-chain", signature)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return types.RawTransaction{}, fmt.Errorf("decode transaction %s: %w", signature, err)
	}

	accounts := make([]string, 0, len(tx.Message.AccountKeys))
	for _, key := range tx.Message.AccountKeys {
		accounts = append(accounts, key.String())
	}
	// Address-lookup-table accounts resolved by the node live in the meta,
	// appended after the static keys in balance-index order.
	for _, key := range out.Meta.LoadedAddresses.Writable {
		accounts = append(accounts, key.String())
	}
	for _, key := range out.Meta.LoadedAddresses.ReadOnly {
		accounts = append(accounts, key.String())
	}

	var blockTime time.Time
	if out.BlockTime != nil {
		blockTime = out.BlockTime.Time()
	}

	return types.RawTransaction{
		Signature:         signature,
		Slot:              out.Slot,
		BlockTime:         blockTime,
		AccountKeys:       accounts,
		PreBalances:       out.Meta.PreBalances,
		PostBalances:      out.Meta.PostBalances,
		PreTokenBalances:  convertTokenBalances(out.Meta.PreTokenBalances),
		PostTokenBalances: convertTokenBalances(out.Meta.PostTokenBalances),
		Source:            source,
	}, nil
}

func convertTokenBalances(balances []rpc.TokenBalance) []types.TokenBalance {
	if len(balances) == 0 {
		return nil
	}
	result := make([]types.TokenBalance, 0, len(balances))
	for _, tb := range balances {
		var owner string
		if tb.Owner != nil {
			owner = tb.Owner.String()
		}
		var amount float64
		if tb.UiTokenAmount != nil && tb.UiTokenAmount.UiAmount != nil {
			amount = *tb.UiTokenAmount.UiAmount
		}
		result = append(result, types.TokenBalance{
			AccountIndex: int(tb.AccountIndex),
			Mint:         tb.Mint.String(),
			Owner:        owner,
			Amount:       amount,
		})
	}
	return result
}

// fetchTransaction pulls the full transaction record over RPC.
func fetchTransaction(ctx context.Context, client *rpc.Client, sig solana.Signature, source string) (types.RawTransaction, error) {
	maxVersion := uint64(0)
	out, err := client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return types.RawTransaction{}, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	raw, err := convertRPCTransaction(sig.String(), source, out)
	if err != nil {
		// Malformed or failed transactions never become fetchable; don't
		// let callers retry them.
		return types.RawTransaction{}, backoff.Permanent(err)
	}
	return raw, nil
}
