// Package config loads and validates the reasoner configuration from
// YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ReasonerConfig is the root configuration for the reasoning core.
type ReasonerConfig struct {
	Research  ResearchConfig  `mapstructure:"research" yaml:"research"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Budget    BudgetConfig    `mapstructure:"budget" yaml:"budget"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Providers ProviderFlags   `mapstructure:"providers" yaml:"providers"`
	Features  FeatureFlags    `mapstructure:"features" yaml:"features"`
	Sources   SourcesConfig   `mapstructure:"sources" yaml:"sources"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Streaming StreamingConfig `mapstructure:"streaming" yaml:"streaming"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// ResearchConfig holds the actor-critic loop knobs.
type ResearchConfig struct {
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
	// EscalationThreshold is the number of critical-severity weaknesses
	// at which a non-REJECT critic verdict is overridden to REJECT.
	EscalationThreshold int `mapstructure:"escalation_threshold" yaml:"escalation_threshold"`
	// InflationMargin is the confidence-score margin (0-10 scale) above
	// the strongest premise at which a claim is flagged as inflated.
	InflationMargin float64 `mapstructure:"inflation_margin" yaml:"inflation_margin"`
	// CriticalImpactThreshold is the downstream-affected count at which
	// a low-confidence claim becomes a critical node.
	CriticalImpactThreshold int `mapstructure:"critical_impact_threshold" yaml:"critical_impact_threshold"`
	// ConfidenceFloor is the 0-10 score below which a claim counts as
	// low-confidence for critical-node marking.
	ConfidenceFloor float64 `mapstructure:"confidence_floor" yaml:"confidence_floor"`
	// PlanThresholdChars is the draft length at which the writer plans
	// an outline before composing.
	PlanThresholdChars int `mapstructure:"plan_threshold_chars" yaml:"plan_threshold_chars"`
}

// TimeoutsConfig holds per-phase call timeouts. Analyst and Writer run
// longer than Critic; individual gap providers are the shortest.
type TimeoutsConfig struct {
	Clarifier   time.Duration `mapstructure:"clarifier" yaml:"clarifier"`
	Analyst     time.Duration `mapstructure:"analyst" yaml:"analyst"`
	Critic      time.Duration `mapstructure:"critic" yaml:"critic"`
	Writer      time.Duration `mapstructure:"writer" yaml:"writer"`
	GapProvider time.Duration `mapstructure:"gap_provider" yaml:"gap_provider"`
	GapRound    time.Duration `mapstructure:"gap_round" yaml:"gap_round"`
}

// BudgetConfig bounds session context growth and LLM retry behavior.
type BudgetConfig struct {
	ContextCharBudget int           `mapstructure:"context_char_budget" yaml:"context_char_budget"`
	MaxLLMAttempts    int           `mapstructure:"max_llm_attempts" yaml:"max_llm_attempts"`
	RetryBaseDelay    time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// LLMConfig configures the upstream OpenAI-compatible endpoint.
type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Temperature  float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RequestsPerS float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ProviderFlags enables gap-resolution channels per deployment or
// session. Static knowledge synthesis is always on and has no flag.
// Network-backed channels default off.
type ProviderFlags struct {
	WebSearch    bool `mapstructure:"web_search" yaml:"web_search"`
	Stock        bool `mapstructure:"stock" yaml:"stock"`
	Weather      bool `mapstructure:"weather" yaml:"weather"`
	Encyclopedia bool `mapstructure:"encyclopedia" yaml:"encyclopedia"`
	Company      bool `mapstructure:"company" yaml:"company"`

	Endpoints ProviderEndpoints `mapstructure:"endpoints" yaml:"endpoints"`
}

// ProviderEndpoints holds the base URLs and credentials of external
// gap-resolution services.
type ProviderEndpoints struct {
	WebSearchURL    string `mapstructure:"web_search_url" yaml:"web_search_url"`
	StockURL        string `mapstructure:"stock_url" yaml:"stock_url"`
	WeatherURL      string `mapstructure:"weather_url" yaml:"weather_url"`
	EncyclopediaURL string `mapstructure:"encyclopedia_url" yaml:"encyclopedia_url"`
	CompanyURL      string `mapstructure:"company_url" yaml:"company_url"`
	APIKey          string `mapstructure:"api_key" yaml:"api_key"`
}

// FeatureFlags toggles optional subsystems.
type FeatureFlags struct {
	Clarifier          bool `mapstructure:"clarifier" yaml:"clarifier"`
	PlanAndWrite       bool `mapstructure:"plan_and_write" yaml:"plan_and_write"`
	ArgumentGraphs     bool `mapstructure:"argument_graphs" yaml:"argument_graphs"`
	StructuredCritique bool `mapstructure:"structured_critique" yaml:"structured_critique"`
	ChainAnalysis      bool `mapstructure:"chain_analysis" yaml:"chain_analysis"`
}

// SourcesConfig locates the tier registry.
type SourcesConfig struct {
	TierRegistryPath string `mapstructure:"tier_registry_path" yaml:"tier_registry_path"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "json" or "console"
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// StreamingConfig controls the progress-event manager.
type StreamingConfig struct {
	RingCapacity int    `mapstructure:"ring_capacity" yaml:"ring_capacity"`
	RedisAddr    string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisEnabled bool   `mapstructure:"redis_enabled" yaml:"redis_enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

// Default returns the built-in configuration.
func Default() *ReasonerConfig {
	return &ReasonerConfig{
		Research: ResearchConfig{
			MaxIterations:           3,
			EscalationThreshold:     2,
			InflationMargin:         3.0,
			CriticalImpactThreshold: 1,
			ConfidenceFloor:         5.0,
			PlanThresholdChars:      6000,
		},
		Timeouts: TimeoutsConfig{
			Clarifier:   15 * time.Second,
			Analyst:     120 * time.Second,
			Critic:      60 * time.Second,
			Writer:      120 * time.Second,
			GapProvider: 10 * time.Second,
			GapRound:    30 * time.Second,
		},
		Budget: BudgetConfig{
			ContextCharBudget: 20000,
			MaxLLMAttempts:    3,
			RetryBaseDelay:    500 * time.Millisecond,
		},
		LLM: LLMConfig{
			BaseURL:      "http://llm-service:8000/v1",
			Model:        "gpt-4o-mini",
			Temperature:  0.2,
			MaxTokens:    4096,
			RequestsPerS: 4,
			Timeout:      2 * time.Minute,
		},
		Features: FeatureFlags{
			Clarifier:          true,
			PlanAndWrite:       true,
			ArgumentGraphs:     true,
			StructuredCritique: true,
			ChainAnalysis:      true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Tracing: TracingConfig{ServiceName: "reasoner-core"},
		Streaming: StreamingConfig{
			RingCapacity: 256,
		},
		Metrics: MetricsConfig{Enabled: true, Port: 2112},
	}
}

// Load reads the config file at path (or CONFIG_PATH, or the built-in
// defaults when neither exists) and applies REASONER_* env overrides.
func Load(path string) (*ReasonerConfig, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("REASONER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &ReasonerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *ReasonerConfig) Validate() error {
	if c.Research.MaxIterations < 1 {
		return fmt.Errorf("research.max_iterations must be >= 1, got %d", c.Research.MaxIterations)
	}
	if c.Research.EscalationThreshold < 1 {
		return fmt.Errorf("research.escalation_threshold must be >= 1, got %d", c.Research.EscalationThreshold)
	}
	if c.Research.InflationMargin < 0 || c.Research.InflationMargin > 10 {
		return fmt.Errorf("research.inflation_margin must be in [0,10], got %f", c.Research.InflationMargin)
	}
	if c.Budget.ContextCharBudget < 1000 {
		return fmt.Errorf("budget.context_char_budget must be >= 1000, got %d", c.Budget.ContextCharBudget)
	}
	if c.Budget.MaxLLMAttempts < 1 {
		return fmt.Errorf("budget.max_llm_attempts must be >= 1, got %d", c.Budget.MaxLLMAttempts)
	}
	if c.Timeouts.GapProvider > c.Timeouts.Critic {
		return fmt.Errorf("timeouts.gap_provider (%s) must not exceed timeouts.critic (%s)",
			c.Timeouts.GapProvider, c.Timeouts.Critic)
	}
	if c.Timeouts.Critic > c.Timeouts.Analyst {
		return fmt.Errorf("timeouts.critic (%s) must not exceed timeouts.analyst (%s)",
			c.Timeouts.Critic, c.Timeouts.Analyst)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Enabled reports whether a named gap channel is switched on. Unknown
// names are disabled.
func (p ProviderFlags) Enabled(channel string) bool {
	switch channel {
	case "web_search":
		return p.WebSearch
	case "stock":
		return p.Stock
	case "weather":
		return p.Weather
	case "encyclopedia":
		return p.Encyclopedia
	case "company":
		return p.Company
	}
	return false
}

func setDefaults(v *viper.Viper, d *ReasonerConfig) {
	v.SetDefault("research.max_iterations", d.Research.MaxIterations)
	v.SetDefault("research.escalation_threshold", d.Research.EscalationThreshold)
	v.SetDefault("research.inflation_margin", d.Research.InflationMargin)
	v.SetDefault("research.critical_impact_threshold", d.Research.CriticalImpactThreshold)
	v.SetDefault("research.confidence_floor", d.Research.ConfidenceFloor)
	v.SetDefault("research.plan_threshold_chars", d.Research.PlanThresholdChars)
	v.SetDefault("timeouts.clarifier", d.Timeouts.Clarifier)
	v.SetDefault("timeouts.analyst", d.Timeouts.Analyst)
	v.SetDefault("timeouts.critic", d.Timeouts.Critic)
	v.SetDefault("timeouts.writer", d.Timeouts.Writer)
	v.SetDefault("timeouts.gap_provider", d.Timeouts.GapProvider)
	v.SetDefault("timeouts.gap_round", d.Timeouts.GapRound)
	v.SetDefault("budget.context_char_budget", d.Budget.ContextCharBudget)
	v.SetDefault("budget.max_llm_attempts", d.Budget.MaxLLMAttempts)
	v.SetDefault("budget.retry_base_delay", d.Budget.RetryBaseDelay)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.requests_per_second", d.LLM.RequestsPerS)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("features.clarifier", d.Features.Clarifier)
	v.SetDefault("features.plan_and_write", d.Features.PlanAndWrite)
	v.SetDefault("features.argument_graphs", d.Features.ArgumentGraphs)
	v.SetDefault("features.structured_critique", d.Features.StructuredCritique)
	v.SetDefault("features.chain_analysis", d.Features.ChainAnalysis)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("streaming.ring_capacity", d.Streaming.RingCapacity)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
}
