// Package model resolves model selectors to provider endpoints.
// Callers name a model alias ("fast", "search") or a raw model identifier and
// the registry returns the endpoint to call and how its output is decoded.
package model

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Decoding modes. They mirror llm.Mode without importing it.
const (
	ModeStructured = "structured"
	ModeText       = "text"
)

// Registry maps model aliases to endpoints.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*EndpointConfig
	defaults  *DefaultsConfig
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the caller kind (openai, compat).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the actual model identifier to send to the provider.
	Model string `json:"model" yaml:"model"`

	// Mode is the response decoding mode. Empty derives it from Model.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// MaxTokens caps the response length for requests that set no limit.
	// Zero leaves it to the provider.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Model is the alias used when a request names no model.
	Model string `json:"model" yaml:"model"`

	// Provider is used for raw model identifiers that match no alias.
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// URL is used for raw model identifiers that match no alias.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// NewRegistry creates a registry from endpoint definitions.
func NewRegistry(endpoints map[string]*EndpointConfig, defaults *DefaultsConfig) *Registry {
	if endpoints == nil {
		endpoints = make(map[string]*EndpointConfig)
	}
	if defaults == nil {
		defaults = &DefaultsConfig{}
	}
	return &Registry{endpoints: endpoints, defaults: defaults}
}

// NewDefaultRegistry creates a registry with OpenAI defaults.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		map[string]*EndpointConfig{
			"default": {
				Provider: "openai",
				Model:    "gpt-4o",
			},
			"fast": {
				Provider: "openai",
				Model:    "gpt-4o-mini",
			},
			"search": {
				Provider: "openai",
				Model:    "gpt-4o-search-preview",
				Mode:     ModeText,
			},
		},
		&DefaultsConfig{Model: "default", Provider: "openai"},
	)
}

// DefaultMode returns the decoding mode a model supports. Search-preview
// models do not accept a response schema and answer in free text.
func DefaultMode(model string) string {
	if strings.Contains(strings.ToLower(model), "search-preview") {
		return ModeText
	}
	return ModeStructured
}

// Resolve returns the endpoint for a selector. An empty selector uses the
// default alias; an unknown selector is treated as a raw model identifier on
// the default provider. The returned value is a copy with Mode filled in.
// Resolve returns nil only when the selector is empty and no default exists.
func (r *Registry) Resolve(selector string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if selector == "" {
		selector = r.defaults.Model
	}
	if selector == "" {
		return nil
	}

	var ep EndpointConfig
	if cfg, ok := r.endpoints[selector]; ok {
		ep = *cfg
	} else {
		ep = EndpointConfig{
			Provider: r.defaults.Provider,
			URL:      r.defaults.URL,
			Model:    selector,
		}
	}
	if ep.Model == "" {
		ep.Model = selector
	}
	if ep.Mode == "" {
		ep.Mode = DefaultMode(ep.Model)
	}
	return &ep
}

// GetEndpoint returns the configured endpoint for an alias, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[name]
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.endpoints[name] = cfg
}

// SetDefault sets the default alias.
func (r *Registry) SetDefault(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaults.Model = model
}

// ListEndpoints returns configured aliases in sorted order.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToConfig())
}
