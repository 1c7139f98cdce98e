package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries every recognized option with an explicit default. Load
// order: defaults, then an optional YAML file, then environment
// variables. There is no dynamic lookup anywhere downstream.
type Config struct {
	// Instrument
	Symbol        string    `yaml:"symbol"`
	PositionSizes []float64 `yaml:"position_sizes"`
	MaxPositions  int       `yaml:"max_positions"`

	// Indicator periods and thresholds
	STCFast          int     `yaml:"stc_fast"`
	STCSlow          int     `yaml:"stc_slow"`
	STCCycle         int     `yaml:"stc_cycle"`
	STCBuyThreshold  float64 `yaml:"stc_buy_threshold"`
	STCSellThreshold float64 `yaml:"stc_sell_threshold"`
	TenkanPeriod     int     `yaml:"tenkan_period"`
	KijunPeriod      int     `yaml:"kijun_period"`
	SenkouBPeriod    int     `yaml:"senkou_b_period"`
	ATRPeriod        int     `yaml:"atr_period"`
	CandleCount      int     `yaml:"candle_count"`
	MinCandles       int     `yaml:"min_candles"`

	// Base exits (non-sweep entries)
	BaseStopLossPips   float64 `yaml:"base_stop_loss_pips"`
	BaseTakeProfitPips float64 `yaml:"base_take_profit_pips"`
	SpreadCompensation float64 `yaml:"spread_compensation"`

	// Trailing baseline, in account-currency dollars
	TrailingSecureProfit     float64 `yaml:"trailing_secure_profit"`
	TrailingExtensionTrigger float64 `yaml:"trailing_extension_trigger"`
	TrailingDistance         float64 `yaml:"trailing_distance"`

	// Reactive profit close
	ReactiveProfitPerPosition float64 `yaml:"reactive_profit_per_position"`
	ReactiveProfitTotal       float64 `yaml:"reactive_profit_total"`

	// Decision fusion
	HigherTimeframes     []string `yaml:"higher_timeframes"`
	MTFAlignmentRequired int      `yaml:"mtf_alignment_required"`
	MTFAlignmentBypass   bool     `yaml:"mtf_alignment_bypass"`
	HTFConfidenceEnabled bool     `yaml:"htf_confidence_enabled"`
	TickPriorityMode     bool     `yaml:"tick_priority_mode"`
	MinConfidenceToTrade float64  `yaml:"min_confidence_to_trade"`
	ExtremeSTCThreshold  float64  `yaml:"extreme_stc_threshold"`
	AllowNoCrossover     bool     `yaml:"allow_no_crossover"`
	ManualRiskMultiplier float64  `yaml:"manual_risk_multiplier"`

	// Sweep engine
	SweepEnabled    bool    `yaml:"sweep_enabled"`
	SweepBaseVolume float64 `yaml:"sweep_base_volume"`

	// Volatility sizing
	MaxATRThreshold     float64 `yaml:"max_atr_threshold"`
	VolumeMinMultiplier float64 `yaml:"volume_min_multiplier"`
	VolumeMaxMultiplier float64 `yaml:"volume_max_multiplier"`

	// Risk rules
	CircuitBreakerEnabled  bool    `yaml:"circuit_breaker_enabled"`
	DailyLossRuleEnabled   bool    `yaml:"daily_loss_rule_enabled"`
	MaxDailyLoss           float64 `yaml:"max_daily_loss"`
	DailyTradesRuleEnabled bool    `yaml:"daily_trades_rule_enabled"`
	MaxDailyTrades         int     `yaml:"max_daily_trades"`
	LossStreakRuleEnabled  bool    `yaml:"loss_streak_rule_enabled"`
	MaxConsecutiveLosses   int     `yaml:"max_consecutive_losses"`
	CooldownMinutes        int     `yaml:"cooldown_minutes"`
	DrawdownRuleEnabled    bool    `yaml:"drawdown_rule_enabled"`
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	CorrelationRuleEnabled bool    `yaml:"correlation_rule_enabled"`
	MaxCorrelatedPositions int     `yaml:"max_correlated_positions"`
	PortfolioRuleEnabled   bool    `yaml:"portfolio_rule_enabled"`
	MaxPortfolioRiskPct    float64 `yaml:"max_portfolio_risk_pct"`

	// ML recommender
	MLEnabled       bool   `yaml:"ml_enabled"`
	MLStateFile     string `yaml:"ml_state_file"`
	MLPersistOnStop bool   `yaml:"ml_persist_on_stop"`

	// Scheduling
	AnalysisIntervalMs  int `yaml:"analysis_interval_ms"`
	ReconcileIntervalMs int `yaml:"reconcile_interval_ms"`

	// Bridge connectivity
	BridgeRESTHost string `yaml:"bridge_rest_host"`
	BridgeWSURL    string `yaml:"bridge_ws_url"`
	UseTickStream  bool   `yaml:"use_tick_stream"`
	HTTPTimeoutMs  int    `yaml:"http_timeout_ms"`
	PongWaitSec    int    `yaml:"pong_wait_sec"`
	PingPeriodSec  int    `yaml:"ping_period_sec"`

	// Journal
	JournalEnabled bool   `yaml:"journal_enabled"`
	JournalFile    string `yaml:"journal_file"`

	// Status / dashboard
	StatusAddr   string `yaml:"status_addr"`
	WebUIEnabled bool   `yaml:"webui_enabled"`
	WebUIAddr    string `yaml:"webui_addr"`

	// Logging
	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAge     int    `yaml:"log_max_age"`
	LogCompress   bool   `yaml:"log_compress"`
	LogLevel      string `yaml:"log_level"`
	Debug         bool   `yaml:"-"`

	// Daemon
	PidFile string `yaml:"pid_file"`
}

// defaults returns the baseline configuration for the XAUUSD strategy.
func defaults() *Config {
	return &Config{
		Symbol:        "XAUUSD-m",
		PositionSizes: []float64{0.05, 0.15, 0.25, 0.35, 0.45, 0.55, 0.65},
		MaxPositions:  4,

		STCFast:          10,
		STCSlow:          23,
		STCCycle:         50,
		STCBuyThreshold:  25,
		STCSellThreshold: 75,
		TenkanPeriod:     9,
		KijunPeriod:      26,
		SenkouBPeriod:    52,
		ATRPeriod:        14,
		CandleCount:      100,
		MinCandles:       60,

		BaseStopLossPips:   10,
		BaseTakeProfitPips: 20,
		SpreadCompensation: 1.5,

		TrailingSecureProfit:     5,
		TrailingExtensionTrigger: 12,
		TrailingDistance:         4,

		ReactiveProfitPerPosition: 5,
		ReactiveProfitTotal:       15,

		HigherTimeframes:     []string{"M15", "M30", "H1", "H4"},
		MTFAlignmentRequired: 1,
		MTFAlignmentBypass:   false,
		HTFConfidenceEnabled: true,
		TickPriorityMode:     true,
		MinConfidenceToTrade: 40,
		ExtremeSTCThreshold:  5.0,
		AllowNoCrossover:     true,
		ManualRiskMultiplier: 1.0,

		SweepEnabled:    true,
		SweepBaseVolume: 0.01,

		MaxATRThreshold:     15,
		VolumeMinMultiplier: 0.5,
		VolumeMaxMultiplier: 2.0,

		CircuitBreakerEnabled:  true,
		DailyLossRuleEnabled:   true,
		MaxDailyLoss:           500,
		DailyTradesRuleEnabled: true,
		MaxDailyTrades:         500,
		LossStreakRuleEnabled:  true,
		MaxConsecutiveLosses:   9,
		CooldownMinutes:        30,
		DrawdownRuleEnabled:    true,
		MaxDrawdownPct:         50,
		CorrelationRuleEnabled: true,
		MaxCorrelatedPositions: 7,
		PortfolioRuleEnabled:   true,
		MaxPortfolioRiskPct:    65,

		MLEnabled:       true,
		MLStateFile:     "ml_state.json",
		MLPersistOnStop: true,

		AnalysisIntervalMs:  1,
		ReconcileIntervalMs: 1000,

		BridgeRESTHost: "http://127.0.0.1:8787",
		BridgeWSURL:    "ws://127.0.0.1:8787/stream",
		UseTickStream:  false,
		HTTPTimeoutMs:  500,
		PongWaitSec:    60,
		PingPeriodSec:  20,

		JournalEnabled: true,
		JournalFile:    "journal/trades.jsonl",

		StatusAddr:   ":8099",
		WebUIEnabled: true,
		WebUIAddr:    ":8090",

		LogFile:       "logs/gold-hft.log",
		LogMaxSize:    10,
		LogMaxBackups: 14,
		LogMaxAge:     14,
		LogCompress:   true,
		LogLevel:      "INFO",

		PidFile: "gold-hft.pid",
	}
}

// LoadConfig builds the configuration: defaults, then the YAML file at
// path (skipped when empty or missing), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Symbol = getEnv("SYMBOL", c.Symbol)
	c.MaxPositions = getEnvAsInt("MAX_POSITIONS", c.MaxPositions)
	if s := os.Getenv("POSITION_SIZES"); s != "" {
		if sizes, err := parseFloatList(s); err == nil && len(sizes) > 0 {
			c.PositionSizes = sizes
		}
	}

	c.STCBuyThreshold = getEnvAsFloat("STC_BUY_THRESHOLD", c.STCBuyThreshold)
	c.STCSellThreshold = getEnvAsFloat("STC_SELL_THRESHOLD", c.STCSellThreshold)
	c.MinConfidenceToTrade = getEnvAsFloat("MIN_CONFIDENCE_TO_TRADE", c.MinConfidenceToTrade)
	c.TickPriorityMode = getEnvAsBool("TICK_PRIORITY_MODE", c.TickPriorityMode)

	c.SweepEnabled = getEnvAsBool("SWEEP_ENABLED", c.SweepEnabled)
	c.SweepBaseVolume = getEnvAsFloat("SWEEP_BASE_VOLUME", c.SweepBaseVolume)

	c.CircuitBreakerEnabled = getEnvAsBool("CIRCUIT_BREAKER_ENABLED", c.CircuitBreakerEnabled)
	c.MaxDailyLoss = getEnvAsFloat("MAX_DAILY_LOSS", c.MaxDailyLoss)
	c.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", c.MaxDailyTrades)
	c.MaxConsecutiveLosses = getEnvAsInt("MAX_CONSECUTIVE_LOSSES", c.MaxConsecutiveLosses)
	c.CooldownMinutes = getEnvAsInt("COOLDOWN_MINUTES", c.CooldownMinutes)
	c.MaxDrawdownPct = getEnvAsFloat("MAX_DRAWDOWN_PCT", c.MaxDrawdownPct)

	c.AnalysisIntervalMs = getEnvAsInt("ANALYSIS_INTERVAL_MS", c.AnalysisIntervalMs)

	c.BridgeRESTHost = getEnv("BRIDGE_REST_HOST", c.BridgeRESTHost)
	c.BridgeWSURL = getEnv("BRIDGE_WS_URL", c.BridgeWSURL)
	c.UseTickStream = getEnvAsBool("USE_TICK_STREAM", c.UseTickStream)

	c.MLEnabled = getEnvAsBool("ML_ENABLED", c.MLEnabled)
	c.JournalEnabled = getEnvAsBool("JOURNAL_ENABLED", c.JournalEnabled)
	c.JournalFile = getEnv("JOURNAL_FILE", c.JournalFile)

	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
	c.WebUIEnabled = getEnvAsBool("WEBUI_ENABLED", c.WebUIEnabled)
	c.WebUIAddr = getEnv("WEBUI_ADDR", c.WebUIAddr)

	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PidFile = getEnv("PID_FILE", c.PidFile)
}

// Validate fails fast on values the runtime cannot recover from.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("config: symbol must not be empty")
	}
	if len(c.PositionSizes) == 0 {
		return fmt.Errorf("config: position_sizes must not be empty")
	}
	for i, v := range c.PositionSizes {
		if v <= 0 {
			return fmt.Errorf("config: position_sizes[%d] = %v, must be > 0", i, v)
		}
	}
	if c.MaxPositions < 1 {
		return fmt.Errorf("config: max_positions = %d, must be >= 1", c.MaxPositions)
	}
	if c.STCFast <= 0 || c.STCSlow <= 0 || c.STCCycle <= 0 {
		return fmt.Errorf("config: STC periods must be positive (fast=%d slow=%d cycle=%d)", c.STCFast, c.STCSlow, c.STCCycle)
	}
	if c.STCFast >= c.STCSlow {
		return fmt.Errorf("config: stc_fast (%d) must be < stc_slow (%d)", c.STCFast, c.STCSlow)
	}
	if c.STCBuyThreshold <= 0 || c.STCSellThreshold >= 100 || c.STCBuyThreshold >= c.STCSellThreshold {
		return fmt.Errorf("config: STC thresholds invalid (buy=%v sell=%v)", c.STCBuyThreshold, c.STCSellThreshold)
	}
	if c.TenkanPeriod <= 0 || c.KijunPeriod <= 0 || c.SenkouBPeriod <= 0 {
		return fmt.Errorf("config: ichimoku periods must be positive")
	}
	if c.MinCandles <= 0 || c.CandleCount < c.MinCandles {
		return fmt.Errorf("config: candle_count (%d) must be >= min_candles (%d) > 0", c.CandleCount, c.MinCandles)
	}
	if c.SweepBaseVolume <= 0 {
		return fmt.Errorf("config: sweep_base_volume = %v, must be > 0", c.SweepBaseVolume)
	}
	if c.AnalysisIntervalMs < 1 {
		return fmt.Errorf("config: analysis_interval_ms = %d, must be >= 1", c.AnalysisIntervalMs)
	}
	if c.ReconcileIntervalMs < 1 {
		return fmt.Errorf("config: reconcile_interval_ms = %d, must be >= 1", c.ReconcileIntervalMs)
	}
	if c.MaxDailyLoss < 0 || c.MaxDrawdownPct < 0 || c.MaxPortfolioRiskPct < 0 {
		return fmt.Errorf("config: risk limits must not be negative")
	}
	if c.LossStreakRuleEnabled && (c.MaxConsecutiveLosses < 1 || c.CooldownMinutes < 1) {
		return fmt.Errorf("config: loss streak rule enabled with max_consecutive_losses=%d cooldown_minutes=%d", c.MaxConsecutiveLosses, c.CooldownMinutes)
	}
	if c.VolumeMinMultiplier <= 0 || c.VolumeMaxMultiplier < c.VolumeMinMultiplier {
		return fmt.Errorf("config: volume multipliers invalid (min=%v max=%v)", c.VolumeMinMultiplier, c.VolumeMaxMultiplier)
	}
	if c.UseTickStream && (c.PingPeriodSec < 1 || c.PingPeriodSec >= c.PongWaitSec) {
		return fmt.Errorf("config: ping_period_sec (%d) must be >= 1 and < pong_wait_sec (%d)", c.PingPeriodSec, c.PongWaitSec)
	}
	return nil
}

func parseFloatList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// getEnv reads an environment variable or returns the default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads an environment variable as an integer or returns the default value
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvAsFloat reads an environment variable as a float or returns the default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBool reads an environment variable as a boolean or returns the default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
