package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ExchangeConfig     ExchangeConfig     `json:"exchange"`
	TradingConfig      TradingConfig      `json:"trading"`
	IndicatorConfig    IndicatorConfig    `json:"indicators"`
	VoterConfig        VoterConfig        `json:"voters"`
	FusionConfig       FusionConfig       `json:"fusion"`
	SizingConfig       SizingConfig       `json:"sizing"`
	RiskConfig         RiskConfig         `json:"risk"`
	RegimeConfig       RegimeConfig       `json:"regime"`
	ProviderConfigs    []ProviderConfig   `json:"providers"`
	StorageConfig      StorageConfig      `json:"storage"`
	RedisConfig        RedisConfig        `json:"redis"`
	VaultConfig        VaultConfig        `json:"vault"`
	ServerConfig       ServerConfig       `json:"server"`
	NotificationConfig NotificationConfig `json:"notification"`
	LoggingConfig      LoggingConfig      `json:"logging"`
}

// ExchangeConfig holds the exchange connection settings. API credentials are
// NOT part of the config file; they come from Vault or the environment via
// the secrets package.
type ExchangeConfig struct {
	Mode           string  `json:"mode"`             // "live" or "paper"
	BaseURL        string  `json:"base_url"`         // REST endpoint
	WSBaseURL      string  `json:"ws_base_url"`      // Websocket endpoint
	TestNet        bool    `json:"testnet"`
	UseWebsocket   bool    `json:"use_websocket"`    // Stream klines between polls
	RecvWindowMs   int     `json:"recv_window_ms"`   // Signed request receive window
	RequestsPerSec float64 `json:"requests_per_sec"` // Client-side rate limit
	Burst          int     `json:"burst"`            // Rate limiter burst
	PaperEquity    float64 `json:"paper_equity"`     // Starting quote balance in paper mode
	PaperSlippage  float64 `json:"paper_slippage"`   // Simulated fill slippage fraction
	PaperSeed      int64   `json:"paper_seed"`       // Random walk seed, 0 = time-based
}

type TradingConfig struct {
	Symbols          []string `json:"symbols"`            // One decision loop per symbol
	Interval         string   `json:"interval"`           // Bar interval, e.g. "1m", "5m"
	PollIntervalSecs int      `json:"poll_interval_secs"` // Seconds between decision ticks
	WindowSize       int      `json:"window_size"`        // Rolling bar window capacity
	MaxFillChecks    int      `json:"max_fill_checks"`    // Ticks to wait for a fill confirmation
	OrderType        string   `json:"order_type"`         // "MARKET" only for now
}

// IndicatorConfig holds the lookback periods for the indicator layer. The
// longest of these determines the minimum window before any vote is cast.
type IndicatorConfig struct {
	FastMAPeriod     int     `json:"fast_ma_period"`    // e.g. 7
	SlowMAPeriod     int     `json:"slow_ma_period"`    // e.g. 25
	LongMAPeriod     int     `json:"long_ma_period"`    // e.g. 99
	RSIPeriod        int     `json:"rsi_period"`        // e.g. 14
	BollingerPeriod  int     `json:"bollinger_period"`  // e.g. 20
	BollingerStdDev  float64 `json:"bollinger_std_dev"` // Band width in standard deviations
	VWAPWindow       int     `json:"vwap_window"`
	VolumeAvgWindow  int     `json:"volume_avg_window"`
	VolatilityWindow int     `json:"volatility_window"` // Log return stddev lookback
}

// VoterConfig holds the per-voter thresholds. Periods live in
// IndicatorConfig; these are the trigger levels.
type VoterConfig struct {
	CrossoverSaturationPct float64 `json:"crossover_saturation_pct"` // MA separation (vs price) for full confidence
	RSIOversold            float64 `json:"rsi_oversold"`             // e.g. 30
	RSIOverbought          float64 `json:"rsi_overbought"`           // e.g. 70
	RSIBounceLookback      int     `json:"rsi_bounce_lookback"`      // Bars to look back for the dip/peak
	VolumeSurgeRatio       float64 `json:"volume_surge_ratio"`       // Volume vs average to confirm a move
	VolumeThinRatio        float64 `json:"volume_thin_ratio"`        // Below this the move is suspect
}

type FusionConfig struct {
	MinConsensusVotes   int     `json:"min_consensus_votes"`  // Votes required per direction
	ConfidenceThreshold float64 `json:"confidence_threshold"` // Below this the decision is HOLD
	TrendAlignedBoost   float64 `json:"trend_aligned_boost"`  // Multiplier when direction follows the trend
	ChoppyDamp          float64 `json:"choppy_damp"`          // Multiplier in choppy regimes
	HighVolDamp         float64 `json:"high_vol_damp"`        // Multiplier in high volatility regimes
	BoosterWeight       float64 `json:"booster_weight"`       // Volume confirmation boost/suppress weight
}

type SizingConfig struct {
	BasePositionPct  float64 `json:"base_position_pct"`  // Fraction of equity before adjustments
	MinPositionPct   float64 `json:"min_position_pct"`   // Lower clamp as fraction of equity
	MaxPositionPct   float64 `json:"max_position_pct"`   // Upper clamp as fraction of equity
	ReductionPerLoss float64 `json:"reduction_per_loss"` // Size factor shaved per consecutive loss
	MinLossFactor    float64 `json:"min_loss_factor"`    // Floor for the loss adjustment
	ChoppyFactor     float64 `json:"choppy_factor"`      // Volatility factor in choppy regimes
	HighVolFactor    float64 `json:"high_vol_factor"`    // Volatility factor in high vol regimes
}

type RiskConfig struct {
	StopLossPct         float64 `json:"stop_loss_pct"`         // Hard stop below entry
	TrailingDistancePct float64 `json:"trailing_distance_pct"` // Stop distance below the high water mark
	TakeProfitPct       float64 `json:"take_profit_pct"`       // 0 disables take profit
	MinHoldSecs         int     `json:"min_hold_secs"`         // Guard against trailing stop noise
	CooldownSecs        int     `json:"cooldown_secs"`         // Pause once the loss streak reaches its cap
	DailyLossLimitPct   float64 `json:"daily_loss_limit_pct"`  // Stop trading past this daily loss
	MaxConsecutiveLosses int    `json:"max_consecutive_losses"` // Losses in a row that arm the cooldown
}

type RegimeConfig struct {
	TrendSlopeThreshold float64 `json:"trend_slope_threshold"` // Per-bar slow MA slope for trending
	ChoppyVolRatio      float64 `json:"choppy_vol_ratio"`      // Volatility vs baseline for choppy
	HighVolRatio        float64 `json:"high_vol_ratio"`        // Volatility vs baseline for high vol
	BaselineWindow      int     `json:"baseline_window"`       // Bars for the volatility baseline
	SlopeWindow         int     `json:"slope_window"`          // Bars over which the MA slope is measured
}

// ProviderConfig describes one optional external signal provider. Providers
// are assembled at startup; an absent or disabled provider is a configuration
// fact, not an error path.
type ProviderConfig struct {
	Name         string `json:"name"`
	URL          string `json:"url"`
	Enabled      bool   `json:"enabled"`
	TimeoutSecs  int    `json:"timeout_secs"`
	CacheTTLSecs int    `json:"cache_ttl_secs"` // Redis score cache TTL
}

type StorageConfig struct {
	Backend     string `json:"backend"`      // "postgres" or "file"
	DatabaseURL string `json:"database_url"` // postgres backend
	MaxConns    int32  `json:"max_conns"`
	MinConns    int32  `json:"min_conns"`
	StateDir    string `json:"state_dir"` // file backend
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path for exchange credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// ServerConfig holds the read-only status API configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	AuthTokenHash   string `json:"auth_token_hash"` // bcrypt hash of the bearer token, empty disables auth
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	ExposeMetrics   bool   `json:"expose_metrics"` // Mount /metrics (Prometheus)
	ReadTimeout     int    `json:"read_timeout"`   // Seconds
	WriteTimeout    int    `json:"write_timeout"`  // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

type NotificationConfig struct {
	Enabled bool          `json:"enabled"`
	Webhook WebhookConfig `json:"webhook"`
}

type WebhookConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"`
	TimeoutSecs int    `json:"timeout_secs"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // JSON output instead of console
}

// Load reads the config file at path (when present), applies environment
// variable overrides, and validates the result. A missing file is not an
// error; defaults plus the environment must still validate.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := mergeFromFile(cfg, path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the documented default configuration. Every threshold and
// cooldown here is a tunable, not an authoritative constant.
func Default() *Config {
	return &Config{
		ExchangeConfig: ExchangeConfig{
			Mode:           "paper",
			BaseURL:        "https://api.binance.com",
			WSBaseURL:      "wss://stream.binance.com:9443",
			RecvWindowMs:   5000,
			RequestsPerSec: 10,
			Burst:          20,
			PaperEquity:    10000,
			PaperSlippage:  0.0005,
		},
		TradingConfig: TradingConfig{
			Symbols:          []string{"BTCUSDT"},
			Interval:         "1m",
			PollIntervalSecs: 30,
			WindowSize:       200,
			MaxFillChecks:    3,
			OrderType:        "MARKET",
		},
		IndicatorConfig: IndicatorConfig{
			FastMAPeriod:     7,
			SlowMAPeriod:     25,
			LongMAPeriod:     99,
			RSIPeriod:        14,
			BollingerPeriod:  20,
			BollingerStdDev:  2.0,
			VWAPWindow:       20,
			VolumeAvgWindow:  20,
			VolatilityWindow: 20,
		},
		VoterConfig: VoterConfig{
			CrossoverSaturationPct: 0.01,
			RSIOversold:            30,
			RSIOverbought:          70,
			RSIBounceLookback:      3,
			VolumeSurgeRatio:       2.0,
			VolumeThinRatio:        0.5,
		},
		FusionConfig: FusionConfig{
			MinConsensusVotes:   2,
			ConfidenceThreshold: 0.6,
			TrendAlignedBoost:   1.2,
			ChoppyDamp:          0.9,
			HighVolDamp:         0.75,
			BoosterWeight:       0.2,
		},
		SizingConfig: SizingConfig{
			BasePositionPct:  0.15,
			MinPositionPct:   0.01,
			MaxPositionPct:   0.25,
			ReductionPerLoss: 0.2,
			MinLossFactor:    0.2,
			ChoppyFactor:     0.85,
			HighVolFactor:    0.5,
		},
		RiskConfig: RiskConfig{
			StopLossPct:          0.02,
			TrailingDistancePct:  0.01,
			TakeProfitPct:        0.04,
			MinHoldSecs:          60,
			CooldownSecs:         900,
			DailyLossLimitPct:    0.05,
			MaxConsecutiveLosses: 3,
		},
		RegimeConfig: RegimeConfig{
			TrendSlopeThreshold: 0.002,
			ChoppyVolRatio:      1.5,
			HighVolRatio:        2.5,
			BaselineWindow:      100,
			SlopeWindow:         10,
		},
		StorageConfig: StorageConfig{
			Backend:  "file",
			MaxConns: 10,
			MinConns: 2,
			StateDir: "state",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "trading-bot/exchange",
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "127.0.0.1",
			AllowedOrigins:  "*",
			RateLimitPerMin: 120,
			ExposeMetrics:   true,
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		NotificationConfig: NotificationConfig{
			Webhook: WebhookConfig{TimeoutSecs: 10},
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func mergeFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Note: exchange API credentials are NOT read here; they come from Vault or
// the environment through the secrets package.
func applyEnvOverrides(cfg *Config) {
	cfg.ExchangeConfig.Mode = getEnvOrDefault("EXCHANGE_MODE", cfg.ExchangeConfig.Mode)
	cfg.ExchangeConfig.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.ExchangeConfig.BaseURL)
	cfg.ExchangeConfig.WSBaseURL = getEnvOrDefault("EXCHANGE_WS_URL", cfg.ExchangeConfig.WSBaseURL)
	cfg.ExchangeConfig.TestNet = getEnvBoolOrDefault("EXCHANGE_TESTNET", cfg.ExchangeConfig.TestNet)
	cfg.ExchangeConfig.UseWebsocket = getEnvBoolOrDefault("EXCHANGE_USE_WEBSOCKET", cfg.ExchangeConfig.UseWebsocket)

	if v := os.Getenv("TRADING_SYMBOLS"); v != "" {
		cfg.TradingConfig.Symbols = splitAndTrim(v)
	}
	cfg.TradingConfig.Interval = getEnvOrDefault("TRADING_INTERVAL", cfg.TradingConfig.Interval)
	cfg.TradingConfig.PollIntervalSecs = getEnvIntOrDefault("TRADING_POLL_INTERVAL_SECS", cfg.TradingConfig.PollIntervalSecs)

	cfg.FusionConfig.MinConsensusVotes = getEnvIntOrDefault("FUSION_MIN_CONSENSUS_VOTES", cfg.FusionConfig.MinConsensusVotes)
	cfg.FusionConfig.ConfidenceThreshold = getEnvFloatOrDefault("FUSION_CONFIDENCE_THRESHOLD", cfg.FusionConfig.ConfidenceThreshold)

	cfg.SizingConfig.BasePositionPct = getEnvFloatOrDefault("SIZING_BASE_POSITION_PCT", cfg.SizingConfig.BasePositionPct)
	cfg.RiskConfig.StopLossPct = getEnvFloatOrDefault("RISK_STOP_LOSS_PCT", cfg.RiskConfig.StopLossPct)
	cfg.RiskConfig.TrailingDistancePct = getEnvFloatOrDefault("RISK_TRAILING_DISTANCE_PCT", cfg.RiskConfig.TrailingDistancePct)
	cfg.RiskConfig.CooldownSecs = getEnvIntOrDefault("RISK_COOLDOWN_SECS", cfg.RiskConfig.CooldownSecs)

	cfg.StorageConfig.Backend = getEnvOrDefault("STORAGE_BACKEND", cfg.StorageConfig.Backend)
	cfg.StorageConfig.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.StorageConfig.DatabaseURL)
	cfg.StorageConfig.StateDir = getEnvOrDefault("STORAGE_STATE_DIR", cfg.StorageConfig.StateDir)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)
	cfg.ServerConfig.AuthTokenHash = getEnvOrDefault("SERVER_AUTH_TOKEN_HASH", cfg.ServerConfig.AuthTokenHash)

	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Webhook.Enabled = getEnvBoolOrDefault("NOTIFICATION_WEBHOOK_ENABLED", cfg.NotificationConfig.Webhook.Enabled)
	cfg.NotificationConfig.Webhook.URL = getEnvOrDefault("NOTIFICATION_WEBHOOK_URL", cfg.NotificationConfig.Webhook.URL)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
}

// Validate rejects configurations that would misbehave at runtime. It runs
// once at startup; nothing downstream re-validates.
func (c *Config) Validate() error {
	switch c.ExchangeConfig.Mode {
	case "live", "paper":
	default:
		return fmt.Errorf("exchange.mode must be \"live\" or \"paper\", got %q", c.ExchangeConfig.Mode)
	}
	if c.ExchangeConfig.RequestsPerSec <= 0 {
		return fmt.Errorf("exchange.requests_per_sec must be positive, got %v", c.ExchangeConfig.RequestsPerSec)
	}

	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("trading.symbols must list at least one symbol")
	}
	seen := make(map[string]bool, len(c.TradingConfig.Symbols))
	for _, s := range c.TradingConfig.Symbols {
		if s == "" {
			return fmt.Errorf("trading.symbols contains an empty symbol")
		}
		if seen[s] {
			return fmt.Errorf("trading.symbols contains duplicate symbol %q", s)
		}
		seen[s] = true
	}
	if c.TradingConfig.Interval == "" {
		return fmt.Errorf("trading.interval must be set")
	}
	if c.TradingConfig.PollIntervalSecs <= 0 {
		return fmt.Errorf("trading.poll_interval_secs must be positive, got %d", c.TradingConfig.PollIntervalSecs)
	}
	if c.TradingConfig.MaxFillChecks < 1 {
		return fmt.Errorf("trading.max_fill_checks must be at least 1, got %d", c.TradingConfig.MaxFillChecks)
	}

	ind := c.IndicatorConfig
	if ind.FastMAPeriod < 2 || ind.SlowMAPeriod < 2 || ind.LongMAPeriod < 2 {
		return fmt.Errorf("indicator MA periods must be at least 2")
	}
	if ind.FastMAPeriod >= ind.SlowMAPeriod {
		return fmt.Errorf("indicators.fast_ma_period (%d) must be shorter than slow_ma_period (%d)", ind.FastMAPeriod, ind.SlowMAPeriod)
	}
	if ind.SlowMAPeriod >= ind.LongMAPeriod {
		return fmt.Errorf("indicators.slow_ma_period (%d) must be shorter than long_ma_period (%d)", ind.SlowMAPeriod, ind.LongMAPeriod)
	}
	if ind.RSIPeriod < 2 {
		return fmt.Errorf("indicators.rsi_period must be at least 2, got %d", ind.RSIPeriod)
	}
	if ind.BollingerPeriod < 2 {
		return fmt.Errorf("indicators.bollinger_period must be at least 2, got %d", ind.BollingerPeriod)
	}
	if ind.BollingerStdDev <= 0 {
		return fmt.Errorf("indicators.bollinger_std_dev must be positive, got %v", ind.BollingerStdDev)
	}
	if ind.VWAPWindow < 1 || ind.VolumeAvgWindow < 1 || ind.VolatilityWindow < 2 {
		return fmt.Errorf("indicator windows must be positive (volatility window at least 2)")
	}
	vot := c.VoterConfig
	if vot.CrossoverSaturationPct <= 0 {
		return fmt.Errorf("voters.crossover_saturation_pct must be positive, got %v", vot.CrossoverSaturationPct)
	}
	if vot.RSIOversold <= 0 || vot.RSIOverbought >= 100 || vot.RSIOversold >= vot.RSIOverbought {
		return fmt.Errorf("voters.rsi thresholds must satisfy 0 < oversold < overbought < 100, got %v and %v",
			vot.RSIOversold, vot.RSIOverbought)
	}
	if vot.RSIBounceLookback < 1 {
		return fmt.Errorf("voters.rsi_bounce_lookback must be at least 1, got %d", vot.RSIBounceLookback)
	}
	if vot.VolumeThinRatio <= 0 || vot.VolumeThinRatio >= 1 || vot.VolumeSurgeRatio <= 1 {
		return fmt.Errorf("voters.volume ratios must satisfy 0 < thin < 1 < surge, got %v and %v",
			vot.VolumeThinRatio, vot.VolumeSurgeRatio)
	}

	if c.TradingConfig.WindowSize < c.LongestLookback() {
		return fmt.Errorf("trading.window_size (%d) must cover the longest indicator lookback (%d)",
			c.TradingConfig.WindowSize, c.LongestLookback())
	}

	fus := c.FusionConfig
	if fus.MinConsensusVotes < 1 {
		return fmt.Errorf("fusion.min_consensus_votes must be at least 1, got %d", fus.MinConsensusVotes)
	}
	if fus.ConfidenceThreshold < 0 || fus.ConfidenceThreshold > 1 {
		return fmt.Errorf("fusion.confidence_threshold must be in [0,1], got %v", fus.ConfidenceThreshold)
	}
	if fus.TrendAlignedBoost < 1 {
		return fmt.Errorf("fusion.trend_aligned_boost must be at least 1, got %v", fus.TrendAlignedBoost)
	}
	if fus.ChoppyDamp <= 0 || fus.ChoppyDamp > 1 || fus.HighVolDamp <= 0 || fus.HighVolDamp > 1 {
		return fmt.Errorf("fusion damp multipliers must be in (0,1]")
	}
	if fus.BoosterWeight < 0 || fus.BoosterWeight >= 1 {
		return fmt.Errorf("fusion.booster_weight must be in [0,1), got %v", fus.BoosterWeight)
	}

	siz := c.SizingConfig
	if siz.BasePositionPct <= 0 || siz.BasePositionPct > 1 {
		return fmt.Errorf("sizing.base_position_pct must be in (0,1], got %v", siz.BasePositionPct)
	}
	if siz.MinPositionPct < 0 || siz.MaxPositionPct <= 0 || siz.MinPositionPct > siz.MaxPositionPct {
		return fmt.Errorf("sizing position pct bounds invalid: min %v, max %v", siz.MinPositionPct, siz.MaxPositionPct)
	}
	if siz.ReductionPerLoss < 0 || siz.ReductionPerLoss > 1 {
		return fmt.Errorf("sizing.reduction_per_loss must be in [0,1], got %v", siz.ReductionPerLoss)
	}
	if siz.MinLossFactor <= 0 || siz.MinLossFactor > 1 {
		return fmt.Errorf("sizing.min_loss_factor must be in (0,1], got %v", siz.MinLossFactor)
	}
	if siz.ChoppyFactor <= 0 || siz.ChoppyFactor > 1 || siz.HighVolFactor <= 0 || siz.HighVolFactor > 1 {
		return fmt.Errorf("sizing volatility factors must be in (0,1]")
	}

	rk := c.RiskConfig
	if rk.StopLossPct <= 0 || rk.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,1), got %v", rk.StopLossPct)
	}
	if rk.TrailingDistancePct <= 0 || rk.TrailingDistancePct >= 1 {
		return fmt.Errorf("risk.trailing_distance_pct must be in (0,1), got %v", rk.TrailingDistancePct)
	}
	if rk.TakeProfitPct < 0 {
		return fmt.Errorf("risk.take_profit_pct must not be negative, got %v", rk.TakeProfitPct)
	}
	if rk.TakeProfitPct > 0 && rk.StopLossPct >= rk.TakeProfitPct {
		return fmt.Errorf("risk.stop_loss_pct (%v) must be below take_profit_pct (%v)", rk.StopLossPct, rk.TakeProfitPct)
	}
	if rk.MinHoldSecs < 0 || rk.CooldownSecs < 0 {
		return fmt.Errorf("risk hold and cooldown durations must not be negative")
	}
	if rk.MaxConsecutiveLosses < 1 {
		return fmt.Errorf("risk.max_consecutive_losses must be at least 1, got %d", rk.MaxConsecutiveLosses)
	}
	if rk.DailyLossLimitPct < 0 {
		return fmt.Errorf("risk.daily_loss_limit_pct must not be negative, got %v", rk.DailyLossLimitPct)
	}

	reg := c.RegimeConfig
	if reg.TrendSlopeThreshold <= 0 {
		return fmt.Errorf("regime.trend_slope_threshold must be positive, got %v", reg.TrendSlopeThreshold)
	}
	if reg.ChoppyVolRatio <= 1 || reg.HighVolRatio <= reg.ChoppyVolRatio {
		return fmt.Errorf("regime volatility ratios must satisfy 1 < choppy < high, got %v and %v", reg.ChoppyVolRatio, reg.HighVolRatio)
	}
	if reg.BaselineWindow < 2 {
		return fmt.Errorf("regime.baseline_window must be at least 2, got %d", reg.BaselineWindow)
	}
	if reg.SlopeWindow < 1 {
		return fmt.Errorf("regime.slope_window must be at least 1, got %d", reg.SlopeWindow)
	}

	names := make(map[string]bool, len(c.ProviderConfigs))
	for _, p := range c.ProviderConfigs {
		if p.Name == "" {
			return fmt.Errorf("providers entries must have a name")
		}
		if names[p.Name] {
			return fmt.Errorf("providers contains duplicate name %q", p.Name)
		}
		names[p.Name] = true
		if p.Enabled && p.URL == "" {
			return fmt.Errorf("provider %q is enabled but has no url", p.Name)
		}
		if p.Enabled && p.TimeoutSecs <= 0 {
			return fmt.Errorf("provider %q must have a positive timeout", p.Name)
		}
	}

	switch c.StorageConfig.Backend {
	case "postgres":
		if c.StorageConfig.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url must be set for the postgres backend")
		}
	case "file":
		if c.StorageConfig.StateDir == "" {
			return fmt.Errorf("storage.state_dir must be set for the file backend")
		}
	default:
		return fmt.Errorf("storage.backend must be \"postgres\" or \"file\", got %q", c.StorageConfig.Backend)
	}

	if c.ServerConfig.Enabled {
		if c.ServerConfig.Port < 1 || c.ServerConfig.Port > 65535 {
			return fmt.Errorf("server.port must be in [1,65535], got %d", c.ServerConfig.Port)
		}
		if c.ServerConfig.RateLimitPerMin < 0 {
			return fmt.Errorf("server.rate_limit_per_min must not be negative")
		}
	}

	return nil
}

// LongestLookback returns the largest indicator lookback; the decision loop
// holds until the bar window reaches this length.
func (c *Config) LongestLookback() int {
	longest := c.IndicatorConfig.LongMAPeriod
	for _, n := range []int{
		c.IndicatorConfig.SlowMAPeriod,
		c.IndicatorConfig.FastMAPeriod,
		c.IndicatorConfig.RSIPeriod + 1,
		c.IndicatorConfig.BollingerPeriod,
		c.IndicatorConfig.VWAPWindow,
		c.IndicatorConfig.VolumeAvgWindow,
		c.IndicatorConfig.VolatilityWindow + 1,
	} {
		if n > longest {
			longest = n
		}
	}
	return longest
}

// PollInterval returns the decision tick interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.TradingConfig.PollIntervalSecs) * time.Second
}

// Cooldown returns the post-loss cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.RiskConfig.CooldownSecs) * time.Second
}

// MinHold returns the minimum hold time guard as a duration.
func (c *Config) MinHold() time.Duration {
	return time.Duration(c.RiskConfig.MinHoldSecs) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func splitAndTrim(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// GenerateSampleConfig writes a starter configuration file with the defaults.
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
