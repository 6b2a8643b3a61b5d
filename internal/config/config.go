package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full configuration tree for the gate service. Every numeric
// threshold the gatekeeper or registrar consults lives here, rule code never
// hard-codes a limit.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Gate        GateConfig        `yaml:"gate"`
	Learner     LearnerConfig     `yaml:"learner"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	ReviewLog   ReviewLogConfig   `yaml:"review_log"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Vendors     VendorsConfig     `yaml:"vendors"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

// AcquisitionConfig bounds one fetch round.
type AcquisitionConfig struct {
	MaxConcurrentFetches int            `yaml:"max_concurrent_fetches"`
	CycleTimeoutSeconds  int            `yaml:"cycle_timeout_seconds"`
	AdapterTimeoutMs     int            `yaml:"adapter_timeout_ms"`
	StalenessHours       map[string]int `yaml:"staleness_hours"` // per capability
}

// CycleTimeout returns the whole-acquisition deadline as a duration.
func (a AcquisitionConfig) CycleTimeout() time.Duration {
	return time.Duration(a.CycleTimeoutSeconds) * time.Second
}

// AdapterTimeout returns the per-call deadline as a duration.
func (a AcquisitionConfig) AdapterTimeout() time.Duration {
	return time.Duration(a.AdapterTimeoutMs) * time.Millisecond
}

// RateLimitConfig defines the default per-source throttle. Individual
// adapters may override via their registration metadata.
type RateLimitConfig struct {
	WindowSeconds     int `yaml:"window_seconds"`
	MaxCallsPerWindow int `yaml:"max_calls_per_window"`
	BurstAllowance    int `yaml:"burst_allowance"`
}

// GateConfig holds every gatekeeper rule threshold, in rule order.
type GateConfig struct {
	SessionOpenHourUTC     int     `yaml:"session_open_hour_utc"`
	SessionCloseHourUTC    int     `yaml:"session_close_hour_utc"`
	PulseTimeoutSeconds    int     `yaml:"pulse_timeout_seconds"`
	CorporateActionDevPct  float64 `yaml:"corporate_action_dev_pct"` // fractional, 0.50 = 50%
	InsiderSellRatio       float64 `yaml:"insider_sell_ratio"`
	InsiderSellMinValueUSD float64 `yaml:"insider_sell_min_value_usd"`
	ConfidenceFloor        float64 `yaml:"confidence_floor"`
	DivergenceCeiling      float64 `yaml:"divergence_ceiling"`
	TrendGrowthThreshold   float64 `yaml:"trend_growth_threshold"`
}

// PulseTimeout returns the live-price re-check deadline.
func (g GateConfig) PulseTimeout() time.Duration {
	return time.Duration(g.PulseTimeoutSeconds) * time.Second
}

type LearnerConfig struct {
	BrakeRepeatLimit int `yaml:"brake_repeat_limit"` // consecutive same-direction moves before freeze
	HistoryDepth     int `yaml:"history_depth"`
	MaxLessons       int `yaml:"max_lessons"`
}

type BreakerConfig struct {
	CapitalFloorRatio float64 `yaml:"capital_floor_ratio"` // running balance / baseline
	StateKey          string  `yaml:"state_key"`
}

type ReviewLogConfig struct {
	Path string `yaml:"path"` // JSONL file; empty disables the file sink
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// VendorsConfig carries per-vendor endpoints. API keys come from the
// environment, never from the yaml file.
type VendorsConfig struct {
	AlphaFeedBaseURL  string `yaml:"alphafeed_base_url"`
	QuantRailBaseURL  string `yaml:"quantrail_base_url"`
	LivePriceEndpoint string `yaml:"live_price_endpoint"`
}

// Default returns the configuration used when no yaml file is present. The
// gate thresholds here are starting points, the bounded learner adjusts them
// within brake limits at runtime.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "dev"},
		Acquisition: AcquisitionConfig{
			MaxConcurrentFetches: 4,
			CycleTimeoutSeconds:  45,
			AdapterTimeoutMs:     8000,
			StalenessHours: map[string]int{
				"price_series":       24,
				"fundamentals":       24 * 90,
				"news":               48,
				"ownership_activity": 24 * 30,
			},
		},
		RateLimit: RateLimitConfig{
			WindowSeconds:     60,
			MaxCallsPerWindow: 30,
			BurstAllowance:    5,
		},
		Gate: GateConfig{
			SessionOpenHourUTC:     14, // 09:30 ET rounded to the hour
			SessionCloseHourUTC:    21,
			PulseTimeoutSeconds:    3,
			CorporateActionDevPct:  0.50,
			InsiderSellRatio:       0.85,
			InsiderSellMinValueUSD: 1_000_000,
			ConfidenceFloor:        0.55,
			DivergenceCeiling:      0.40,
			TrendGrowthThreshold:   0.30,
		},
		Learner: LearnerConfig{
			BrakeRepeatLimit: 3,
			HistoryDepth:     10,
			MaxLessons:       200,
		},
		Breaker: BreakerConfig{
			CapitalFloorRatio: 0.85,
			StateKey:          "tradegate:breaker",
		},
		ReviewLog: ReviewLogConfig{Path: "review_log.jsonl"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Vendors: VendorsConfig{
			AlphaFeedBaseURL:  "https://api.alphafeed.io/v2",
			QuantRailBaseURL:  "https://data.quantrail.com/v1",
			LivePriceEndpoint: "https://api.alphafeed.io/v2/quote",
		},
	}
}

// Load reads the yaml config at path, layers it over the defaults, applies
// environment overrides, and validates the result. A missing file is not an
// error, defaults plus environment are enough for local runs.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config %s: %w", path, err)
			}
		} else {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate catches configuration that would make the gate silently
// ineffective. Called once at startup; a bad config refuses to boot.
func (c *Config) Validate() error {
	if c.Acquisition.MaxConcurrentFetches < 1 {
		return fmt.Errorf("acquisition.max_concurrent_fetches must be >= 1, got %d", c.Acquisition.MaxConcurrentFetches)
	}
	if c.Acquisition.CycleTimeoutSeconds < 1 {
		return fmt.Errorf("acquisition.cycle_timeout_seconds must be >= 1, got %d", c.Acquisition.CycleTimeoutSeconds)
	}
	if c.RateLimit.MaxCallsPerWindow < 1 {
		return fmt.Errorf("rate_limit.max_calls_per_window must be >= 1, got %d", c.RateLimit.MaxCallsPerWindow)
	}
	if c.Gate.ConfidenceFloor < 0 || c.Gate.ConfidenceFloor > 1 {
		return fmt.Errorf("gate.confidence_floor %.3f outside [0,1]", c.Gate.ConfidenceFloor)
	}
	if c.Gate.DivergenceCeiling <= 0 {
		return fmt.Errorf("gate.divergence_ceiling must be positive, got %.3f", c.Gate.DivergenceCeiling)
	}
	if c.Gate.SessionOpenHourUTC >= c.Gate.SessionCloseHourUTC {
		return fmt.Errorf("gate session window is empty: open=%d close=%d", c.Gate.SessionOpenHourUTC, c.Gate.SessionCloseHourUTC)
	}
	if c.Learner.BrakeRepeatLimit < 1 {
		return fmt.Errorf("learner.brake_repeat_limit must be >= 1, got %d", c.Learner.BrakeRepeatLimit)
	}
	if c.Breaker.CapitalFloorRatio <= 0 || c.Breaker.CapitalFloorRatio >= 1 {
		return fmt.Errorf("breaker.capital_floor_ratio %.3f outside (0,1)", c.Breaker.CapitalFloorRatio)
	}
	return nil
}
