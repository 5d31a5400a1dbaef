// Package config provides configuration loading and management for seminvoke.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/model"
	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderCompat = "compat"
)

// Config represents the complete seminvoke configuration
type Config struct {
	Provider  ProviderConfig       `yaml:"provider"`
	Retry     llm.RetryConfig      `yaml:"retry"`
	Models    model.RegistryConfig `yaml:"models"`
	NATS      NATSConfig           `yaml:"nats"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
	LogLevel  string               `yaml:"log_level"`
}

// ProviderConfig selects and configures the LLM caller
type ProviderConfig struct {
	// Kind is "openai" (official SDK) or "compat" (any OpenAI-compatible endpoint)
	Kind string `yaml:"kind"`
	// BaseURL overrides the provider's API base URL
	BaseURL string `yaml:"base_url,omitempty"`
	// APIKey is normally supplied through the environment, not the file
	APIKey string `yaml:"api_key,omitempty"`
	// Timeout bounds a single HTTP request
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures invocation recording over NATS
type NATSConfig struct {
	// URL is the NATS server URL (empty = recording disabled)
	URL string `yaml:"url,omitempty"`
	// SubjectPrefix is prepended to "<outcome>" for published records
	SubjectPrefix string `yaml:"subject_prefix"`
	// Bucket is the JetStream KV bucket records are also kept in (empty = publish only)
	Bucket string `yaml:"bucket,omitempty"`
	// RecordTTL expires kept records (0 = keep forever)
	RecordTTL time.Duration `yaml:"record_ttl,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector endpoint (empty = tracing disabled)
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	// Insecure disables TLS to the collector
	Insecure bool `yaml:"insecure,omitempty"`
	// ServiceName is reported as service.name
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:    ProviderOpenAI,
			Timeout: 3 * time.Minute,
		},
		Retry:  llm.DefaultRetryConfig(),
		Models: *model.NewDefaultRegistry().ToConfig(),
		NATS: NATSConfig{
			SubjectPrefix: llm.DefaultSubjectPrefix,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "seminvoke",
		},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case ProviderOpenAI, ProviderCompat:
	default:
		return fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderOpenAI, ProviderCompat, c.Provider.Kind)
	}
	if c.Provider.Timeout < 0 {
		return fmt.Errorf("provider.timeout must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffBase < 0 {
		return fmt.Errorf("retry.backoff_base must not be negative")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be at least 1")
	}
	if c.Retry.MaxBackoff < 0 {
		return fmt.Errorf("retry.max_backoff must not be negative")
	}
	if c.NATS.RecordTTL < 0 {
		return fmt.Errorf("nats.record_ttl must not be negative")
	}
	for name, ep := range c.Models.Endpoints {
		if ep == nil || ep.Model == "" {
			return fmt.Errorf("models.endpoints.%s.model is required", name)
		}
		if ep.Mode != "" && ep.Mode != model.ModeStructured && ep.Mode != model.ModeText {
			return fmt.Errorf("models.endpoints.%s.mode must be %q or %q", name, model.ModeStructured, model.ModeText)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Registry builds the model registry described by the config.
func (c *Config) Registry() *model.Registry {
	return model.FromConfig(&c.Models)
}

// ParseLogLevel converts a level name (debug, info, warn, error) to a slog.Level.
// An empty name is info.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
// ${VAR:-default} references in the file are expanded first.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := decodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadLayer reads a file into an empty Config so that Merge only applies
// the values the file actually sets.
func loadLayer(path string) (*Config, error) {
	config := &Config{}
	if err := decodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

func decodeFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	expanded := ExpandEnvWithDefaults(string(data))
	if err := yaml.Unmarshal([]byte(expanded), into); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file. The API key is never written.
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Provider.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Provider
	if other.Provider.Kind != "" {
		c.Provider.Kind = other.Provider.Kind
	}
	if other.Provider.BaseURL != "" {
		c.Provider.BaseURL = other.Provider.BaseURL
	}
	if other.Provider.APIKey != "" {
		c.Provider.APIKey = other.Provider.APIKey
	}
	if other.Provider.Timeout != 0 {
		c.Provider.Timeout = other.Provider.Timeout
	}

	// Retry
	if other.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = other.Retry.MaxAttempts
	}
	if other.Retry.BackoffBase != 0 {
		c.Retry.BackoffBase = other.Retry.BackoffBase
	}
	if other.Retry.BackoffMultiplier != 0 {
		c.Retry.BackoffMultiplier = other.Retry.BackoffMultiplier
	}
	if other.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = other.Retry.MaxBackoff
	}

	// Models
	if len(other.Models.Endpoints) > 0 || other.Models.Defaults != nil {
		reg := c.Registry()
		reg.MergeFromConfig(&other.Models)
		c.Models = *reg.ToConfig()
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}
	if other.NATS.Bucket != "" {
		c.NATS.Bucket = other.NATS.Bucket
	}
	if other.NATS.RecordTTL != 0 {
		c.NATS.RecordTTL = other.NATS.RecordTTL
	}

	// Telemetry
	if other.Telemetry.OTLPEndpoint != "" {
		c.Telemetry.OTLPEndpoint = other.Telemetry.OTLPEndpoint
	}
	if other.Telemetry.Insecure {
		c.Telemetry.Insecure = true
	}
	if other.Telemetry.ServiceName != "" {
		c.Telemetry.ServiceName = other.Telemetry.ServiceName
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
