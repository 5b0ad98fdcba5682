// internal/executor/prices.go
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

const solPriceTTL = 30 * time.Second

// PriceClient fetches USD token prices from the routing service's price
// endpoint. The SOL/USD rate is cached; a stale value beats no value when the
// endpoint hiccups.
type PriceClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	mu          sync.Mutex
	solPrice    float64
	solPricedAt time.Time
}

// NewPriceClient creates a price client against the price endpoint base URL.
func NewPriceClient(baseURL string, logger *zap.Logger) *PriceClient {
	return &PriceClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: quoteTimeout},
		logger:  logger.Named("prices"),
	}
}

type priceResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

// Prices returns the USD price per mint. Mints absent from the response are
// omitted from the result, not errors.
func (c *PriceClient) Prices(ctx context.Context, mints []string) (map[string]float64, error) {
	if len(mints) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(mints, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price service returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var decoded priceResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	out := make(map[string]float64, len(decoded.Data))
	for mint, entry := range decoded.Data {
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		out[mint] = price
	}
	return out, nil
}

// SOLPriceUSD returns the cached SOL/USD rate, refreshing it when older than
// the TTL. On refresh failure the stale value is returned if one exists.
func (c *PriceClient) SOLPriceUSD(ctx context.Context) (float64, error) {
	c.mu.Lock()
	if c.solPrice > 0 && time.Since(c.solPricedAt) < solPriceTTL {
		price := c.solPrice
		c.mu.Unlock()
		return price, nil
	}
	c.mu.Unlock()

	prices, err := c.Prices(ctx, []string{types.WSOLMint})
	if err != nil || prices[types.WSOLMint] <= 0 {
		c.mu.Lock()
		stale := c.solPrice
		c.mu.Unlock()
		if stale > 0 {
			c.logger.Warn("SOL price refresh failed, using stale value",
				zap.Float64("stale_price", stale), zap.Error(err))
			return stale, nil
		}
		if err == nil {
			err = fmt.Errorf("price service returned no SOL price")
		}
		return 0, err
	}

	price := prices[types.WSOLMint]
	c.mu.Lock()
	c.solPrice = price
	c.solPricedAt = time.Now()
	c.mu.Unlock()
	return price, nil
}
