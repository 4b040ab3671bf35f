package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/visroute/pkg/capability"
	"github.com/zen-systems/visroute/pkg/intent"
	"github.com/zen-systems/visroute/pkg/router"
)

// RoutingConfig holds the routing parameters and capability bindings.
type RoutingConfig struct {
	SampleBudget         int           `yaml:"sample_budget"`
	ConsistencyThreshold float64       `yaml:"consistency_threshold"`
	Answerer             RouteTarget   `yaml:"answerer"`
	Localizer            RouteTarget   `yaml:"localizer"`
	Temperature          *float64      `yaml:"temperature,omitempty"`
	Intent               IntentConfig  `yaml:"intent"`
	Retry                RetryConfig   `yaml:"retry,omitempty"`
	Eval                 EvalConfig    `yaml:"eval,omitempty"`
	Logging              LoggingConfig `yaml:"logging,omitempty"`
}

// RouteTarget specifies an adapter and model combination.
type RouteTarget struct {
	Adapter string `yaml:"adapter"`
	Model   string `yaml:"model"`
}

// IntentConfig lists the localization triggers.
// An empty section falls back to intent.DefaultKeywords.
type IntentConfig struct {
	Keywords   []string `yaml:"keywords,omitempty"`
	Substrings []string `yaml:"substrings,omitempty"`
	Patterns   []string `yaml:"patterns,omitempty"`
}

// RetryConfig defines retry and backoff behavior for capability calls.
type RetryConfig struct {
	MaxRetries    int `yaml:"max_retries,omitempty"`
	BaseBackoffMs int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int `yaml:"max_backoff_ms,omitempty"`
}

// EvalConfig tunes the evaluation harness.
type EvalConfig struct {
	Parallelism      int `yaml:"parallelism,omitempty"`
	PredictionMaxLen int `yaml:"prediction_max_len,omitempty"`
}

// LoggingConfig selects the log level and an optional rotating log file.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// LoadRoutingConfig reads routing configuration from a YAML file.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutingConfig(data)
}

// ParseRoutingConfig decodes and validates routing YAML.
// Keys that are absent take their defaults; explicit zeros are kept as written.
func ParseRoutingConfig(data []byte) (*RoutingConfig, error) {
	cfg := DefaultRoutingConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	normalizeRouting(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultRoutingConfig returns the default routing configuration.
func DefaultRoutingConfig() *RoutingConfig {
	t := 1.0
	return &RoutingConfig{
		SampleBudget:         5,
		ConsistencyThreshold: 0.6,
		Answerer: RouteTarget{
			Adapter: "openai",
			Model:   "gpt-4o-mini",
		},
		Localizer: RouteTarget{
			Adapter: "google",
			Model:   "gemini-2.0-flash",
		},
		Temperature: &t,
		Retry: RetryConfig{
			MaxRetries:    2,
			BaseBackoffMs: 200,
			MaxBackoffMs:  2000,
		},
		Eval: EvalConfig{
			Parallelism:      1,
			PredictionMaxLen: 100,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// normalizeRouting fills values that are derived from, or cleared by, the decoded YAML.
func normalizeRouting(cfg *RoutingConfig) {
	if cfg.Temperature == nil {
		t := 1.0
		cfg.Temperature = &t
	}
	if cfg.Retry.MaxBackoffMs < cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = cfg.Retry.BaseBackoffMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports every problem in the configuration at once.
func (c *RoutingConfig) Validate() error {
	var errs []error
	if err := c.Params().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Answerer.Adapter == "" {
		errs = append(errs, errors.New("answerer: adapter is required"))
	}
	if c.Localizer.Adapter == "" {
		errs = append(errs, errors.New("localizer: adapter is required"))
	}
	if c.Temperature != nil && (math.IsNaN(*c.Temperature) || *c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("temperature %v outside [0, 2]", *c.Temperature))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry: max_retries %d is negative", c.Retry.MaxRetries))
	}
	if c.Eval.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("eval: parallelism %d is negative", c.Eval.Parallelism))
	}
	if c.Eval.PredictionMaxLen < 0 {
		errs = append(errs, fmt.Errorf("eval: prediction_max_len %d is negative", c.Eval.PredictionMaxLen))
	}
	if _, err := c.IntentClassifier(); err != nil {
		errs = append(errs, fmt.Errorf("intent: %w", err))
	}
	return errors.Join(errs...)
}

// Params returns the router parameters (k, τ).
func (c *RoutingConfig) Params() router.Params {
	return router.Params{SampleBudget: c.SampleBudget, Threshold: c.ConsistencyThreshold}
}

// IntentClassifier compiles the configured triggers.
func (c *RoutingConfig) IntentClassifier() (*intent.Classifier, error) {
	in := c.Intent
	if len(in.Keywords) == 0 && len(in.Substrings) == 0 && len(in.Patterns) == 0 {
		return intent.Default(), nil
	}
	return intent.NewFromVocabulary(in.Keywords, in.Substrings, in.Patterns)
}

// RetryPolicy converts the retry section for capability.WithRetry.
func (c *RoutingConfig) RetryPolicy() capability.RetryPolicy {
	return capability.RetryPolicy{
		MaxRetries:    c.Retry.MaxRetries,
		BaseBackoffMs: c.Retry.BaseBackoffMs,
		MaxBackoffMs:  c.Retry.MaxBackoffMs,
	}
}
