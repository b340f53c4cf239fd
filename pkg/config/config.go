// Package config loads pipeline defaults from YAML.
//
// A configuration names retry policies once so that several pipelines can
// share them:
//
//	log_level: info
//	telemetry_prefix: [shop, checkout]
//	default_timeout: 5s
//	retry_policies:
//	  payments:
//	    max_attempts: 3
//	    strategy: exponential
//	    initial_delay: 100ms
//	    max_delay: 2s
//	    multiplier: 2
//	    jitter: 0.1
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/conduit/pkg/api"
	"github.com/petrijr/conduit/pkg/backoff"
)

const (
	defaultLogLevel     = "info"
	defaultMaxAttempts  = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// ErrUnknownPolicy is returned by RetryPolicy for names not in the config.
var ErrUnknownPolicy = errors.New("unknown retry policy")

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "60s", "5m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// RetryPolicyConfig is the YAML form of a retry policy.
type RetryPolicyConfig struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	Strategy     string   `yaml:"strategy"`
	InitialDelay Duration `yaml:"initial_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	Multiplier   float64  `yaml:"multiplier"`
	Jitter       float64  `yaml:"jitter"`
}

type Config struct {
	LogLevel        string                       `yaml:"log_level"`
	TelemetryPrefix []string                     `yaml:"telemetry_prefix"`
	DefaultTimeout  Duration                     `yaml:"default_timeout"`
	RetryPolicies   map[string]RetryPolicyConfig `yaml:"retry_policies"`
}

// Default returns a configuration with info logging, no default timeout
// and no named retry policies.
func Default() Config {
	return Config{
		LogLevel:      defaultLogLevel,
		RetryPolicies: map[string]RetryPolicyConfig{},
	}
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", c.LogLevel)
	}
	if c.DefaultTimeout < 0 {
		return errors.New("default timeout must be >= 0")
	}
	for i, part := range c.TelemetryPrefix {
		if part == "" {
			return fmt.Errorf("telemetry prefix element %d cannot be empty", i)
		}
	}
	for name, p := range c.RetryPolicies {
		if name == "" {
			return errors.New("retry policy name cannot be empty")
		}
		if err := p.validate(); err != nil {
			return fmt.Errorf("retry policy %q: %w", name, err)
		}
	}
	return nil
}

func (p RetryPolicyConfig) validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	if _, err := backoff.ParseStrategy(p.Strategy); err != nil {
		return err
	}
	if p.InitialDelay < 0 {
		return errors.New("initial delay must be >= 0")
	}
	if p.MaxDelay < 0 {
		return errors.New("max delay must be >= 0")
	}
	if p.MaxDelay > 0 && p.InitialDelay > p.MaxDelay {
		return errors.New("initial delay cannot exceed max delay")
	}
	if p.Multiplier < 0 {
		return errors.New("multiplier must be >= 0")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("jitter must be between 0 and 1")
	}
	return nil
}

// Spec converts the YAML form into a backoff.Spec, filling defaults for
// zero fields.
func (p RetryPolicyConfig) Spec() (backoff.Spec, error) {
	strategy, err := backoff.ParseStrategy(p.Strategy)
	if err != nil {
		return backoff.Spec{}, err
	}
	spec := backoff.Spec{
		Strategy:     strategy,
		InitialDelay: p.InitialDelay.Duration(),
		MaxDelay:     p.MaxDelay.Duration(),
		Multiplier:   p.Multiplier,
		JitterFactor: p.Jitter,
	}
	if spec.InitialDelay == 0 {
		spec.InitialDelay = defaultInitialDelay
	}
	if spec.MaxDelay == 0 {
		spec.MaxDelay = defaultMaxDelay
	}
	if spec.Multiplier == 0 {
		spec.Multiplier = defaultMultiplier
	}
	return spec, nil
}

// RetryPolicy builds the named retry policy. Every failure is treated as
// recoverable; callers narrow that with RetryPolicy.Recoverable.
func (c Config) RetryPolicy(name string) (api.RetryPolicy, error) {
	p, ok := c.RetryPolicies[name]
	if !ok {
		return api.RetryPolicy{}, fmt.Errorf("%w %q", ErrUnknownPolicy, name)
	}
	spec, err := p.Spec()
	if err != nil {
		return api.RetryPolicy{}, fmt.Errorf("retry policy %q: %w", name, err)
	}
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = defaultMaxAttempts
	}
	return api.RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     spec,
	}, nil
}
