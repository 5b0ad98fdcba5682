// internal/alerts/alerts.go
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/solmirror/mirror-bot/internal/ledger"
	"github.com/solmirror/mirror-bot/internal/types"
	"go.uber.org/zap"
)

// AlertType classifies what tripped an alert.
type AlertType string

const (
	AlertTypePriceDrop    AlertType = "price_drop"
	AlertTypeProfitTarget AlertType = "profit_target"
	AlertTypeLossLimit    AlertType = "loss_limit"
	AlertTypeLargeTrade   AlertType = "large_trade"
	AlertTypeManualAction AlertType = "manual_action"
)

// Alert is one triggered notification.
type Alert struct {
	ID         string    `json:"id"`
	Type       AlertType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TokenMint  string    `json:"token_mint"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity"` // "info", "warning", "critical"
	PnLPercent float64   `json:"pnl_percent,omitempty"`
	Threshold  float64   `json:"threshold,omitempty"`
}

// Config holds alert thresholds.
type Config struct {
	PriceDropPercent    float64       `json:"price_drop_percent"`
	ProfitTargetPercent float64       `json:"profit_target_percent"`
	LossLimitPercent    float64       `json:"loss_limit_percent"`
	LargeTradeSOL       float64       `json:"large_trade_sol"`
	Cooldown            time.Duration `json:"cooldown"`
}

// DefaultConfig returns sane thresholds for meme-coin volatility.
func DefaultConfig() Config {
	return Config{
		PriceDropPercent:    10.0,
		ProfitTargetPercent: 50.0,
		LossLimitPercent:    20.0,
		LargeTradeSOL:       10.0,
		Cooldown:            5 * time.Minute,
	}
}

// Handler is called for each triggered alert.
type Handler func(alert Alert)

// Manager watches positions and trades and fires alerts with a per-token
// cooldown to keep a dumping token from spamming the channel.
type Manager struct {
	mu      sync.RWMutex
	config  Config
	logger  *zap.Logger
	alerts  []Alert
	maxKeep int
	lastHit map[string]time.Time
	fns     []Handler
}

// New creates an alert manager.
func New(config Config, logger *zap.Logger) *Manager {
	return &Manager{
		config:  config,
		logger:  logger.Named("alerts"),
		alerts:  make([]Alert, 0, 100),
		maxKeep: 1000,
		lastHit: make(map[string]time.Time),
		fns:     make([]Handler, 0),
	}
}

// AddHandler registers a callback for triggered alerts.
func (m *Manager) AddHandler(fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns = append(m.fns, fn)
}

// CheckPosition evaluates a position's P&L against the thresholds.
func (m *Manager) CheckPosition(pos *ledger.Position) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if last, ok := m.lastHit[pos.Token]; ok && now.Sub(last) < m.config.Cooldown {
		return nil
	}

	var triggered []Alert

	if m.config.LossLimitPercent > 0 && pos.PnLPercent <= -m.config.LossLimitPercent {
		triggered = append(triggered, m.fire(Alert{
			Type:       AlertTypeLossLimit,
			TokenMint:  pos.Token,
			Message:    fmt.Sprintf("Loss limit hit: %.1f%% on %s", pos.PnLPercent, pos.Token),
			Severity:   "critical",
			PnLPercent: pos.PnLPercent,
			Threshold:  -m.config.LossLimitPercent,
		}))
	} else if m.config.PriceDropPercent > 0 && pos.PnLPercent <= -m.config.PriceDropPercent {
		triggered = append(triggered, m.fire(Alert{
			Type:       AlertTypePriceDrop,
			TokenMint:  pos.Token,
			Message:    fmt.Sprintf("Price down %.1f%% on %s", -pos.PnLPercent, pos.Token),
			Severity:   "warning",
			PnLPercent: pos.PnLPercent,
			Threshold:  -m.config.PriceDropPercent,
		}))
	}

	if m.config.ProfitTargetPercent > 0 && pos.PnLPercent >= m.config.ProfitTargetPercent {
		triggered = append(triggered, m.fire(Alert{
			Type:       AlertTypeProfitTarget,
			TokenMint:  pos.Token,
			Message:    fmt.Sprintf("Profit target reached: +%.1f%% on %s", pos.PnLPercent, pos.Token),
			Severity:   "info",
			PnLPercent: pos.PnLPercent,
			Threshold:  m.config.ProfitTargetPercent,
		}))
	}

	if len(triggered) > 0 {
		m.lastHit[pos.Token] = now
	}
	return triggered
}

// CheckSignal flags unusually large target-wallet trades.
func (m *Manager) CheckSignal(signal *types.Signal) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.LargeTradeSOL <= 0 || signal.SolAmount < m.config.LargeTradeSOL {
		return nil
	}
	return []Alert{m.fire(Alert{
		Type:      AlertTypeLargeTrade,
		TokenMint: signal.TokenMint,
		Message: fmt.Sprintf("Large %s by target: %.2f SOL of %s",
			signal.Action, signal.SolAmount, signal.TokenMint),
		Severity:  "info",
		Threshold: m.config.LargeTradeSOL,
	})}
}

// ManualIntervention fires a critical alert for a trade automation gave up
// on. Cooldown does not apply; the operator must see every one.
func (m *Manager) ManualIntervention(tokenMint, detail string) Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fire(Alert{
		Type:      AlertTypeManualAction,
		TokenMint: tokenMint,
		Message:   fmt.Sprintf("Manual intervention required for %s: %s", tokenMint, detail),
		Severity:  "critical",
	})
}

// fire stamps, stores, logs and dispatches an alert. Caller holds the lock.
func (m *Manager) fire(alert Alert) Alert {
	alert.ID = fmt.Sprintf("alert_%d", time.Now().UnixNano())
	alert.Timestamp = time.Now()

	if len(m.alerts) >= m.maxKeep {
		m.alerts = m.alerts[1:]
	}
	m.alerts = append(m.alerts, alert)

	switch alert.Severity {
	case "critical":
		m.logger.Error("Alert triggered",
			zap.String("type", string(alert.Type)),
			zap.String("token", alert.TokenMint),
			zap.String("message", alert.Message))
	case "warning":
		m.logger.Warn("Alert triggered",
			zap.String("type", string(alert.Type)),
			zap.String("token", alert.TokenMint),
			zap.String("message", alert.Message))
	default:
		m.logger.Info("Alert triggered",
			zap.String("type", string(alert.Type)),
			zap.String("token", alert.TokenMint),
			zap.String("message", alert.Message))
	}

	for _, fn := range m.fns {
		go fn(alert)
	}
	return alert
}

// Recent returns the newest alerts, up to limit.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.alerts) {
		limit = len(m.alerts)
	}
	out := make([]Alert, limit)
	copy(out, m.alerts[len(m.alerts)-limit:])
	return out
}

// UpdateConfig swaps thresholds at runtime.
func (m *Manager) UpdateConfig(config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config
	m.logger.Info("Alert configuration updated",
		zap.Float64("price_drop_percent", config.PriceDropPercent),
		zap.Float64("profit_target_percent", config.ProfitTargetPercent),
		zap.Float64("loss_limit_percent", config.LossLimitPercent))
}
