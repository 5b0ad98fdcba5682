package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/solmirror/mirror-bot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const seedWallet = "Vote111111111111111111111111111111111111111"

func tokenAccountsServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"jsonrpc": "2.0",
			"id": 1,
			"result": {
				"context": {"slot": 1},
				"value": [
					{
						"pubkey": "` + seedWallet + `",
						"account": {
							"lamports": 2039280,
							"owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
							"executable": false,
							"rentEpoch": 0,
							"data": {
								"program": "spl-token",
								"space": 165,
								"parsed": {
									"type": "account",
									"info": {
										"mint": "` + testMint + `",
										"tokenAmount": {
											"amount": "123450000",
											"decimals": 6,
											"uiAmount": 123.45,
											"uiAmountString": "123.45"
										}
									}
								}
							}
						}
					}
				]
			}
		}`))
	}))
}

func TestSeedWalletFromChain(t *testing.T) {
	srv := tokenAccountsServer(t)
	defer srv.Close()

	h := NewHoldings(zap.NewNop())
	seeded, err := h.SeedWalletFromChain(context.Background(), rpc.New(srv.URL), seedWallet)
	require.NoError(t, err)

	assert.Equal(t, 1, seeded)
	assert.InDelta(t, 123.45, h.Get(seedWallet, testMint), 1e-9)
}

func TestSeedWalletFromChainRejectsBadWallet(t *testing.T) {
	h := NewHoldings(zap.NewNop())
	_, err := h.SeedWalletFromChain(context.Background(), rpc.New("http://127.0.0.1:1"), "not-a-wallet")
	assert.Error(t, err)
}

func TestSeededHoldingsPreventFullExitOnPartialSell(t *testing.T) {
	// A bag the trader held before the bot started: only the seed knows
	// its size. When the provider drops the pre-balance row, the tracked
	// counter is the denominator; without it this sell would clamp to a
	// full exit.
	p := newTestParser(t)
	p.Holdings().Set(testWallet, testMint, 1000)

	tx := sellTx("sig-seeded-sell", 250, 1000, 400_000_000)
	tx.PreTokenBalances = nil

	signal, err := p.Parse(tx)
	require.NoError(t, err)

	assert.Equal(t, types.ActionSell, signal.Action)
	assert.InDelta(t, 1000, signal.TraderTotalTokensBeforeTrade, 1e-9)
	assert.Less(t, signal.TraderSoldTokens, signal.TraderTotalTokensBeforeTrade,
		"a partial sell must not read as a full exit")
}
