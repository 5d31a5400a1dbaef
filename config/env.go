package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c360studio/seminvoke/model"
	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables that override file config.
type envOverrides struct {
	Provider     string        `env:"SEMINVOKE_PROVIDER"`
	BaseURL      string        `env:"SEMINVOKE_BASE_URL"`
	APIKey       string        `env:"SEMINVOKE_API_KEY"`
	OpenAIAPIKey string        `env:"OPENAI_API_KEY"`
	Timeout      time.Duration `env:"SEMINVOKE_TIMEOUT"`
	Model        string        `env:"SEMINVOKE_MODEL"`
	MaxAttempts  int           `env:"SEMINVOKE_MAX_ATTEMPTS"`
	BackoffBase  time.Duration `env:"SEMINVOKE_BACKOFF_BASE"`
	NATSURL      string        `env:"SEMINVOKE_NATS_URL"`
	NATSBucket   string        `env:"SEMINVOKE_NATS_BUCKET"`
	OTLPEndpoint string        `env:"SEMINVOKE_OTLP_ENDPOINT"`
	LogLevel     string        `env:"SEMINVOKE_LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto c. A nil environ reads the
// process environment.
func ApplyEnv(c *Config, environ map[string]string) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = o.OpenAIAPIKey
	}

	overlay := &Config{
		Provider: ProviderConfig{
			Kind:    o.Provider,
			BaseURL: o.BaseURL,
			APIKey:  apiKey,
			Timeout: o.Timeout,
		},
		NATS:      NATSConfig{URL: o.NATSURL, Bucket: o.NATSBucket},
		Telemetry: TelemetryConfig{OTLPEndpoint: o.OTLPEndpoint},
		LogLevel:  o.LogLevel,
	}
	overlay.Retry.MaxAttempts = o.MaxAttempts
	overlay.Retry.BackoffBase = o.BackoffBase
	c.Merge(overlay)

	if o.Model != "" {
		if c.Models.Defaults == nil {
			c.Models.Defaults = &model.DefaultsConfig{}
		}
		c.Models.Defaults.Model = o.Model
	}
	return nil
}

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references in s.
// Unset or empty variables without a default expand to "".
func ExpandEnvWithDefaults(s string) string {
	return os.Expand(s, func(ref string) string {
		name, def, hasDefault := strings.Cut(ref, ":-")
		if v, ok := os.LookupEnv(name); ok && v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return ""
	})
}
