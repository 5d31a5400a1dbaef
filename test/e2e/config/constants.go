// Package config provides configuration constants for e2e tests.
package config

import "time"

// Default connection URLs.
const (
	DefaultNATSURL    = "nats://localhost:4222"
	DefaultMockLLMURL = "http://localhost:11434"
)

// Default timeouts. A scenario's Execute runs under ScenarioTimeout;
// waits for published records use DefaultWaitTimeout.
const (
	DefaultScenarioTimeout = 30 * time.Second
	DefaultWaitTimeout     = 10 * time.Second
)

// Recording targets used by the scenarios. They are kept apart from the
// defaults so e2e runs never mix with real invocation records.
const (
	SubjectPrefix = "e2e.llm.invocation"
	RecordBucket  = "SEMINVOKE_E2E_CALLS"
)

// Fixture models served by mock-llm (see test/e2e/fixtures/mock-llm).
const (
	ModelFlakyVerdict = "e2e-flaky-verdict"
	ModelDownVerdict  = "e2e-down-verdict"
	ModelRejected     = "e2e-rejected"
	ModelSearch       = "e2e-search-preview"
)

// Config holds the e2e test configuration.
type Config struct {
	NATSURL         string        `json:"nats_url"`
	MockLLMURL      string        `json:"mock_llm_url"`
	ScenarioTimeout time.Duration `json:"scenario_timeout"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		NATSURL:         DefaultNATSURL,
		MockLLMURL:      DefaultMockLLMURL,
		ScenarioTimeout: DefaultScenarioTimeout,
	}
}
