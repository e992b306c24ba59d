package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full pipeline configuration. Every threshold in here is a
// product-tuned constant: only the comparisons against them are load-bearing.
type Config struct {
	Budget        BudgetConfig        `mapstructure:"budget"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Gates         GatesConfig         `mapstructure:"gates"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Session       SessionConfig       `mapstructure:"session"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// BudgetConfig drives the wall-clock budget tracker.
type BudgetConfig struct {
	Total         time.Duration `mapstructure:"total"`          // whole-session budget
	SafetyMargin  time.Duration `mapstructure:"safety_margin"`  // reserved for finalization
	StageFloor    time.Duration `mapstructure:"stage_floor"`    // minimum allowance per stage
	DegradeWindow time.Duration `mapstructure:"degrade_window"` // remaining <= this => stop regenerating
}

// FetchConfig configures providers and the sufficiency check.
type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"` // nominal stage timeout
	PrimaryBaseURL   string        `mapstructure:"primary_base_url"`
	SecondaryBaseURL string        `mapstructure:"secondary_base_url"`
	MaxResults       int           `mapstructure:"max_results"`
	MinSources       int           `mapstructure:"min_sources"`
	MinVenues        int           `mapstructure:"min_venues"`
	MinEffective     float64       `mapstructure:"min_effective"`
	DomainsFile      string        `mapstructure:"domains_file"` // secondary-provenance allowlist
}

// AnalysisConfig configures the concurrent analyzer.
type AnalysisConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"` // nominal stage timeout
	MaxWorkers        int           `mapstructure:"max_workers"`
	BatchSize         int           `mapstructure:"batch_size"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"` // per reasoning call
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// SynthesisConfig configures drafting and regeneration.
type SynthesisConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`      // nominal stage timeout
	CallTimeout time.Duration `mapstructure:"call_timeout"` // per section call
	MaxAttempts int           `mapstructure:"max_attempts"` // regenerations beyond the first draft
	TargetWords int           `mapstructure:"target_words"`
}

// GatesConfig holds the pass thresholds for the gate chain.
type GatesConfig struct {
	QualityFloor    float64 `mapstructure:"quality_floor"`
	SupportFraction float64 `mapstructure:"support_fraction"`
}

// LLMConfig configures the reasoning-model client.
type LLMConfig struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// SessionConfig configures the session store backend.
type SessionConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"` // empty => in-memory store
	TTL       time.Duration `mapstructure:"ttl"`
}

// ObservabilityConfig configures metrics and logging.
type ObservabilityConfig struct {
	MetricsPort int    `mapstructure:"metrics_port"`
	LogLevel    string `mapstructure:"log_level"`
}

// Load reads the config file from CONFIG_PATH or ./config/quill.yaml and
// merges env overrides on top of defaults.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/quill.yaml"
	}

	cfg := Defaults()

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults + env still apply.
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	cfg := &Config{}

	cfg.Budget.Total = 5 * time.Minute
	cfg.Budget.SafetyMargin = 10 * time.Second
	cfg.Budget.StageFloor = 5 * time.Second
	cfg.Budget.DegradeWindow = 45 * time.Second

	cfg.Fetch.Timeout = 45 * time.Second
	cfg.Fetch.MaxResults = 20
	cfg.Fetch.MinSources = 5
	cfg.Fetch.MinVenues = 3
	cfg.Fetch.MinEffective = 4.0

	cfg.Analysis.Timeout = 120 * time.Second
	cfg.Analysis.MaxWorkers = 4
	cfg.Analysis.BatchSize = 3
	cfg.Analysis.CallTimeout = 30 * time.Second
	cfg.Analysis.MaxRetries = 3
	cfg.Analysis.BackoffBase = 2 * time.Second
	cfg.Analysis.RequestsPerSecond = 2

	cfg.Synthesis.Timeout = 120 * time.Second
	cfg.Synthesis.CallTimeout = 45 * time.Second
	cfg.Synthesis.MaxAttempts = 2
	cfg.Synthesis.TargetWords = 900

	cfg.Gates.QualityFloor = 0.6
	cfg.Gates.SupportFraction = 0.7

	cfg.LLM.Model = "gpt-4o-mini"

	cfg.Session.TTL = 24 * time.Hour

	cfg.Observability.MetricsPort = 2112
	cfg.Observability.LogLevel = "info"

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUILL_TOTAL_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Budget.Total = d
		}
	}
	if v := os.Getenv("QUILL_DEGRADE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Budget.DegradeWindow = d
		}
	}
	if v := os.Getenv("QUILL_MIN_SOURCES"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Fetch.MinSources = x
		}
	}
	if v := os.Getenv("QUILL_MIN_VENUES"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Fetch.MinVenues = x
		}
	}
	if v := os.Getenv("QUILL_QUALITY_FLOOR"); v != "" {
		var x float64
		_, _ = fmt.Sscanf(v, "%f", &x)
		if x > 0 {
			cfg.Gates.QualityFloor = x
		}
	}
	if v := os.Getenv("QUILL_MAX_ATTEMPTS"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Synthesis.MaxAttempts = x
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Observability.MetricsPort = x
		}
	}
}
