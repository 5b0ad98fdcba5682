// internal/executor/quote.go
package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

const quoteTimeout = 10 * time.Second

// QuoteClient talks to the swap-routing service: quotes, swap transaction
// builds and USD prices.
type QuoteClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewQuoteClient creates a client against the routing service base URL.
func NewQuoteClient(baseURL string, logger *zap.Logger) *QuoteClient {
	return &QuoteClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: quoteTimeout},
		logger:  logger.Named("quote"),
	}
}

// quoteResponse mirrors the routing service's quote payload. Amounts arrive
// as decimal strings.
type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`
}

// GetQuote fetches a route for swapping amount of inputMint into outputMint.
func (c *QuoteClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*types.Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote service returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var decoded quoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}

	inAmount, err := strconv.ParseUint(decoded.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid inAmount %q: %w", decoded.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(decoded.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid outAmount %q: %w", decoded.OutAmount, err)
	}
	impact, _ := strconv.ParseFloat(decoded.PriceImpactPct, 64)

	c.logger.Debug("Quote received",
		zap.String("input_mint", inputMint),
		zap.String("output_mint", outputMint),
		zap.Uint64("in_amount", inAmount),
		zap.Uint64("out_amount", outAmount),
		zap.Float64("price_impact_pct", impact))

	return &types.Quote{
		InputMint:      decoded.InputMint,
		OutputMint:     decoded.OutputMint,
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		SlippageBps:    decoded.SlippageBps,
		Response:       body,
	}, nil
}

// swapRequest is the POST /swap body. The quote JSON is passed back verbatim.
type swapRequest struct {
	QuoteResponse                 json.RawMessage `json:"quoteResponse"`
	UserPublicKey                 string          `json:"userPublicKey"`
	WrapAndUnwrapSol              bool            `json:"wrapAndUnwrapSol"`
	ComputeUnitPriceMicroLamports uint64          `json:"computeUnitPriceMicroLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error,omitempty"`
}

// BuildSwap turns a quote into an unsigned transaction ready for signing.
func (c *QuoteClient) BuildSwap(ctx context.Context, quote *types.Quote, userPublicKey string, priorityFee uint64) (*solana.Transaction, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:                 quote.Response,
		UserPublicKey:                 userPublicKey,
		WrapAndUnwrapSol:              true,
		ComputeUnitPriceMicroLamports: priorityFee,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("swap build returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var decoded swapResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("swap build rejected: %s", decoded.Error)
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}
	return tx, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
