// internal/executor/prober.go
package executor

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	probeInterval = 2 * time.Minute
	probeTimeout  = 3 * time.Second
)

// healthProbe is a minimal JSON-RPC call every Solana-compatible submission
// endpoint answers.
var healthProbe = []byte(`{"jsonrpc":"2.0","id":1,"method":"getHealth"}`)

// Prober tracks the lowest-latency submission endpoint. The selection is
// cached between probe rounds; when every probe fails the first configured
// endpoint is the fallback.
type Prober struct {
	endpoints []string
	http      *http.Client
	logger    *zap.Logger

	mu       sync.Mutex
	fastest  string
	probedAt time.Time
}

// NewProber creates a prober over the configured submission endpoints.
// An empty list is allowed; Fastest then returns the empty string and the
// caller falls back to its default RPC.
func NewProber(endpoints []string, logger *zap.Logger) *Prober {
	return &Prober{
		endpoints: endpoints,
		http:      &http.Client{Timeout: probeTimeout},
		logger:    logger.Named("prober"),
	}
}

// Fastest returns the current best endpoint, re-probing when the cached
// selection has expired.
func (p *Prober) Fastest(ctx context.Context) string {
	if len(p.endpoints) == 0 {
		return ""
	}

	p.mu.Lock()
	if p.fastest != "" && time.Since(p.probedAt) < probeInterval {
		fastest := p.fastest
		p.mu.Unlock()
		return fastest
	}
	p.mu.Unlock()

	fastest := p.probe(ctx)

	p.mu.Lock()
	p.fastest = fastest
	p.probedAt = time.Now()
	p.mu.Unlock()
	return fastest
}

// probe measures all endpoints concurrently and picks the quickest healthy
// one.
func (p *Prober) probe(ctx context.Context) string {
	type result struct {
		endpoint string
		latency  time.Duration
		ok       bool
	}

	results := make([]result, len(p.endpoints))
	var wg sync.WaitGroup
	for i, endpoint := range p.endpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			latency, err := p.measure(ctx, endpoint)
			results[i] = result{endpoint: endpoint, latency: latency, ok: err == nil}
		}(i, endpoint)
	}
	wg.Wait()

	best := ""
	bestLatency := time.Duration(0)
	for _, r := range results {
		if !r.ok {
			continue
		}
		if best == "" || r.latency < bestLatency {
			best = r.endpoint
			bestLatency = r.latency
		}
	}

	if best == "" {
		best = p.endpoints[0]
		p.logger.Warn("All submission endpoint probes failed, using first configured",
			zap.String("endpoint", best))
		return best
	}

	p.logger.Debug("Submission endpoint selected",
		zap.String("endpoint", best),
		zap.Duration("latency", bestLatency))
	return best
}

func (p *Prober) measure(ctx context.Context, endpoint string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(healthProbe))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}
