// Package config loads and validates the immutable per-run session
// configuration. A Config is created once at process start and never mutated
// afterwards; every component receives the fields it needs by value.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windrose-io/windrose/internal/venue"
)

// Duration is a time.Duration that unmarshals from yaml strings like "50ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library form.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full session configuration for one governor instance.
type Config struct {
	// Instrument and sizing
	Symbol        string  `yaml:"symbol"`
	LotSize       float64 `yaml:"lot_size"`
	CloseProfit   float64 `yaml:"close_profit"`    // per-position profit target, account currency
	MaxOpenTrades int     `yaml:"max_open_trades"` // concurrent position ceiling
	MaxSpread     float64 `yaml:"max_spread"`      // pre-trade spread gate, price units
	Reverse       bool    `yaml:"reverse"`         // flip every decision

	// Order plumbing
	StrategyTag       string  `yaml:"strategy_tag"`
	FillMode          int     `yaml:"fill_mode"` // 1=FOK 2=IOC 3=RETURN
	DeviationPoints   int     `yaml:"deviation_points"`
	TPPointMultiplier float64 `yaml:"tp_point_multiplier"` // 0 = auto by symbol class

	// Trading-hours gate (local time, [start, end))
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`

	// Risk limits
	DailyTargetPct float64 `yaml:"daily_target_pct"`
	MaxDrawdownPct float64 `yaml:"max_dd_pct"`
	TierPause      float64 `yaml:"tier_pause"`      // floating-profit tier active even while paused
	TierActive     float64 `yaml:"tier_active"`     // general floating-profit tier
	OffsetMinLoss  float64 `yaml:"offset_min_loss"` // daily-offset rule: minimum absolute floating loss
	RiskPct        float64 `yaml:"risk_pct"`        // suggested-lot advisory, % of free margin

	// Admission windows
	Window WindowConfig `yaml:"window"`

	// Loop cadence and decision history
	TickInterval   Duration `yaml:"tick_interval"`
	HistoryBars    int      `yaml:"history_bars"`
	MinHistoryBars int      `yaml:"min_history_bars"`

	Bridge    BridgeConfig    `yaml:"bridge"`
	Decision  DecisionConfig  `yaml:"decision"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HTTP      HTTPConfig      `yaml:"http"`

	LogLevel string `yaml:"log_level"`
}

// WindowConfig sizes the active/pause admission windows.
type WindowConfig struct {
	ActiveSeconds int `yaml:"active_seconds"`
	PauseSeconds  int `yaml:"pause_seconds"`
	OpenLimit     int `yaml:"open_limit"` // per-window order ceiling
}

// BridgeConfig points at the terminal bridge the venue gateway talks to.
type BridgeConfig struct {
	BaseURL   string   `yaml:"base_url"`
	StreamURL string   `yaml:"stream_url"` // websocket tick feed, optional
	Timeout   Duration `yaml:"timeout"`
	RPS       float64  `yaml:"rps"`
	Burst     int      `yaml:"burst"`
}

// DecisionConfig selects and parameterizes the decision source.
type DecisionConfig struct {
	Mode       string   `yaml:"mode"`       // "rule" or "remote"
	RemoteURL  string   `yaml:"remote_url"` // model server endpoint for mode=remote
	Timeout    Duration `yaml:"timeout"`
	FastPeriod int      `yaml:"fast_period"` // rule policy SMA periods
	SlowPeriod int      `yaml:"slow_period"`
}

// TelemetryConfig locates the durable records and the optional audit sink.
type TelemetryConfig struct {
	Dir      string `yaml:"dir"`
	AuditDSN string `yaml:"audit_dsn"` // optional Postgres mirror of the trade log
}

// HTTPConfig configures the read-only status server.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables the server
}

// Default returns the production-ready baseline configuration. Window and
// tier defaults follow the values the strategy was tuned with.
func Default() *Config {
	return &Config{
		LotSize:           0.01,
		CloseProfit:       0.5,
		MaxOpenTrades:     5,
		MaxSpread:         0.5,
		StrategyTag:       "windrose-v1",
		FillMode:          int(venue.FillIOC),
		DeviationPoints:   5,
		TPPointMultiplier: 0, // resolved per symbol class
		StartHour:         9,
		EndHour:           17,
		DailyTargetPct:    2.0,
		MaxDrawdownPct:    5.0,
		TierPause:         0.5,
		TierActive:        2.0,
		OffsetMinLoss:     5.0,
		RiskPct:           1.0,
		Window: WindowConfig{
			ActiveSeconds: 60,
			PauseSeconds:  10,
			OpenLimit:     50,
		},
		TickInterval:   Duration(50 * time.Millisecond),
		HistoryBars:    120,
		MinHistoryBars: 10,
		Bridge: BridgeConfig{
			BaseURL: "http://127.0.0.1:6542",
			Timeout: Duration(5 * time.Second),
			RPS:     20,
			Burst:   40,
		},
		Decision: DecisionConfig{
			Mode:       "rule",
			Timeout:    Duration(2 * time.Second),
			FastPeriod: 5,
			SlowPeriod: 20,
		},
		Telemetry: TelemetryConfig{
			Dir: "telemetry",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:9214",
		},
		LogLevel: "info",
	}
}

// Load reads path into a Config on top of defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if dsn := os.Getenv("WINDROSE_AUDIT_DSN"); dsn != "" {
		cfg.Telemetry.AuditDSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the governor cannot run safely with.
func (c *Config) Validate() error {
	var errs []string

	if c.Symbol == "" {
		errs = append(errs, "symbol is required")
	}
	if c.LotSize <= 0 || c.LotSize > 10 {
		errs = append(errs, "lot_size must be in (0, 10]")
	}
	if c.MaxOpenTrades < 1 || c.MaxOpenTrades > 100 {
		errs = append(errs, "max_open_trades must be in [1, 100]")
	}
	if c.CloseProfit <= 0 {
		errs = append(errs, "close_profit must be positive")
	}
	if c.MaxSpread <= 0 {
		errs = append(errs, "max_spread must be positive")
	}
	if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 0 || c.EndHour > 23 {
		errs = append(errs, "trading hours must be in [0, 23]")
	}
	if c.StartHour >= c.EndHour {
		errs = append(errs, "start_hour must be before end_hour")
	}
	if c.MaxDrawdownPct <= 0 {
		errs = append(errs, "max_dd_pct must be positive")
	}
	if c.DailyTargetPct <= 0 {
		errs = append(errs, "daily_target_pct must be positive")
	}
	if c.Window.ActiveSeconds <= 0 || c.Window.PauseSeconds <= 0 {
		errs = append(errs, "window durations must be positive")
	}
	if c.Window.OpenLimit < 1 {
		errs = append(errs, "window open_limit must be at least 1")
	}
	if fm := venue.FillMode(c.FillMode); fm != venue.FillFOK && fm != venue.FillIOC && fm != venue.FillReturn {
		errs = append(errs, "fill_mode must be 1 (FOK), 2 (IOC) or 3 (RETURN)")
	}
	if c.Decision.Mode != "rule" && c.Decision.Mode != "remote" {
		errs = append(errs, `decision.mode must be "rule" or "remote"`)
	}
	if c.Decision.Mode == "remote" && c.Decision.RemoteURL == "" {
		errs = append(errs, "decision.remote_url is required for remote mode")
	}
	if c.Bridge.BaseURL == "" {
		errs = append(errs, "bridge.base_url is required")
	}
	if c.HistoryBars < c.MinHistoryBars {
		errs = append(errs, "history_bars must be at least min_history_bars")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// TPMultiplier resolves the take-profit point multiplier. High-tick-value
// symbol classes scale the point conversion by 100.
func (c *Config) TPMultiplier() float64 {
	if c.TPPointMultiplier > 0 {
		return c.TPPointMultiplier
	}
	if strings.Contains(strings.ToUpper(c.Symbol), "BTC") {
		return 100
	}
	return 1
}
