// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

type Config struct {
	TargetWallet    string   `mapstructure:"target_wallet"`
	PrivateKey      string   `mapstructure:"private_key"`
	RPCList         []string `mapstructure:"rpc_list"`
	WebSocketURL    string   `mapstructure:"websocket_url"`
	StreamURL       string   `mapstructure:"stream_url"`
	StreamAPIKey    string   `mapstructure:"stream_api_key"`
	Monitor         string   `mapstructure:"monitor"` // "stream", "logs" or "poll"
	PollInterval    int      `mapstructure:"poll_interval"`

	QuoteAPIURL         string   `mapstructure:"quote_api_url"`
	PriceAPIURL         string   `mapstructure:"price_api_url"`
	SubmissionEndpoints []string `mapstructure:"submission_endpoints"`
	TipFloorURL         string   `mapstructure:"tip_floor_url"`

	PositionSizeSOL  float64 `mapstructure:"position_size_sol"`
	MaxPositions     int     `mapstructure:"max_positions"`
	PaperTrading     bool    `mapstructure:"paper_trading"`
	SlippageBps      int     `mapstructure:"slippage_bps"`
	MinTradeSizeSOL  float64 `mapstructure:"min_trade_size_sol"`
	MaxDailyLoss     float64 `mapstructure:"max_daily_loss"` // fraction of starting balance, e.g. 0.1
	StartingBalance  float64 `mapstructure:"starting_balance_sol"`
	PriorityFeeSOL   float64 `mapstructure:"priority_fee_sol"` // configured minimum tip
	AntiMEV          bool    `mapstructure:"anti_mev"`
	MaxPnLPercent    float64 `mapstructure:"max_pnl_percent"` // sanity clamp for bad price ticks

	PriceDelay   int    `mapstructure:"price_delay"` // base price refresh interval, ms
	PostgresURL  string `mapstructure:"postgres_url"`
	WebhookURL   string `mapstructure:"webhook_url"`
	ListenAddr   string `mapstructure:"listen_addr"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	DebugLogging bool   `mapstructure:"debug_logging"`
}

const (
	DefaultMonitor       = "logs"
	DefaultPollInterval  = 5000
	DefaultPriceDelay    = 10000
	DefaultMaxPositions  = 5
	DefaultSlippageBps   = 300
	DefaultMaxPnLPercent = 10000
	DefaultQuoteAPIURL   = "https://quote-api.jup.ag/v6"
	DefaultPriceAPIURL   = "https://lite-api.jup.ag/price/v2"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor":         DefaultMonitor,
		"poll_interval":   DefaultPollInterval,
		"price_delay":     DefaultPriceDelay,
		"max_positions":   DefaultMaxPositions,
		"slippage_bps":    DefaultSlippageBps,
		"max_pnl_percent": DefaultMaxPnLPercent,
		"quote_api_url":   DefaultQuoteAPIURL,
		"price_api_url":   DefaultPriceAPIURL,
		"paper_trading":   true,
		"listen_addr":     ":8090",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, ValidateConfig(&cfg)
}

func ValidateConfig(cfg *Config) error {
	if cfg.TargetWallet == "" {
		return errors.New("missing target_wallet in configuration")
	}
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	if !cfg.PaperTrading && cfg.PrivateKey == "" {
		return errors.New("private_key required for live trading")
	}
	switch cfg.Monitor {
	case "stream":
		if cfg.StreamURL == "" {
			return errors.New("stream monitor selected but stream_url is empty")
		}
	case "logs":
		if cfg.WebSocketURL == "" {
			return errors.New("logs monitor selected but websocket_url is empty")
		}
	case "poll":
	default:
		return errors.New("monitor must be one of: stream, logs, poll")
	}
	if cfg.WebSocketURL != "" {
		if err := validateURLWithCache(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	if cfg.WebhookURL != "" {
		if err := validateURLWithCache(cfg.WebhookURL, "https"); err != nil {
			return errors.New("webhook URL must use HTTPS")
		}
	}
	return nil
}

func validateNumericParams(cfg *Config) error {
	if cfg.PositionSizeSOL <= 0 {
		return errors.New("invalid position_size_sol")
	}
	if cfg.MaxPositions <= 0 {
		return errors.New("invalid max_positions")
	}
	if cfg.SlippageBps <= 0 || cfg.SlippageBps > 10000 {
		return errors.New("invalid slippage_bps")
	}
	if cfg.MinTradeSizeSOL < 0 {
		return errors.New("invalid min_trade_size_sol")
	}
	if cfg.MaxDailyLoss < 0 || cfg.MaxDailyLoss >= 1 {
		return errors.New("max_daily_loss must be a fraction in [0, 1)")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("invalid poll_interval")
	}
	if cfg.PriceDelay <= 0 {
		return errors.New("invalid price_delay")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("MIRROR_BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envWallet := v.GetString("TARGET_WALLET")
	if envWallet != "" {
		cfg.TargetWallet = envWallet
	}

	// The signing key never belongs in a config file.
	envKey := v.GetString("PRIVATE_KEY")
	if envKey != "" {
		cfg.PrivateKey = envKey
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
