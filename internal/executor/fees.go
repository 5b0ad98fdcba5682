// internal/executor/fees.go
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

const (
	tipFloorTTL     = 20 * time.Second
	tipFloorTimeout = 5 * time.Second

	// antiMEVFloorSOL is the minimum tip that keeps a protected submission
	// competitive with sandwich bots.
	antiMEVFloorSOL = 0.001
)

// FeeOracle resolves the priority fee for a submission: the maximum of the
// network's current tip floor, the configured minimum and, when anti-MEV
// protection is on, a hard floor.
type FeeOracle struct {
	tipFloorURL string
	minTipSOL   float64
	http        *http.Client
	logger      *zap.Logger

	mu       sync.Mutex
	cached   float64 // SOL
	cachedAt time.Time
}

// NewFeeOracle creates a fee oracle. An empty tipFloorURL disables the
// dynamic component and only the static floors apply.
func NewFeeOracle(tipFloorURL string, minTipSOL float64, logger *zap.Logger) *FeeOracle {
	return &FeeOracle{
		tipFloorURL: tipFloorURL,
		minTipSOL:   minTipSOL,
		http:        &http.Client{Timeout: tipFloorTimeout},
		logger:      logger.Named("fees"),
	}
}

// tipFloorEntry is one row of the tip floor API response, values in SOL.
type tipFloorEntry struct {
	LandedTips50 float64 `json:"landed_tips_50th_percentile"`
	LandedTips75 float64 `json:"landed_tips_75th_percentile"`
}

// PriorityFeeLamports resolves the tip for the next submission, in lamports.
// Failures to fetch the dynamic floor degrade to the static floors.
func (f *FeeOracle) PriorityFeeLamports(ctx context.Context, antiMEV bool) uint64 {
	feeSOL := f.minTipSOL
	if antiMEV && feeSOL < antiMEVFloorSOL {
		feeSOL = antiMEVFloorSOL
	}

	if dynamic := f.dynamicFloor(ctx); dynamic > feeSOL {
		feeSOL = dynamic
	}

	return uint64(feeSOL * types.LamportsPerSOL)
}

// dynamicFloor returns the cached or freshly fetched network tip floor in
// SOL, or zero when unavailable.
func (f *FeeOracle) dynamicFloor(ctx context.Context) float64 {
	if f.tipFloorURL == "" {
		return 0
	}

	f.mu.Lock()
	if time.Since(f.cachedAt) < tipFloorTTL {
		cached := f.cached
		f.mu.Unlock()
		return cached
	}
	f.mu.Unlock()

	floor, err := f.fetchTipFloor(ctx)
	if err != nil {
		f.logger.Warn("Tip floor fetch failed", zap.Error(err))
		f.mu.Lock()
		cached := f.cached
		f.mu.Unlock()
		return cached
	}

	f.mu.Lock()
	f.cached = floor
	f.cachedAt = time.Now()
	f.mu.Unlock()
	return floor
}

func (f *FeeOracle) fetchTipFloor(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tipFloorURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build tip floor request: %w", err)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tip floor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read tip floor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tip floor service returned %d", resp.StatusCode)
	}

	var entries []tipFloorEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return 0, fmt.Errorf("failed to decode tip floor: %w", err)
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("empty tip floor response")
	}

	// 75th percentile lands reliably without grossly overpaying.
	return entries[0].LandedTips75, nil
}
