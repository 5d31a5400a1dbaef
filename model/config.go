package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// RegistryConfig is the serialized form of a Registry. It appears under
// "models" in seminvoke.yaml.
type RegistryConfig struct {
	Endpoints map[string]*EndpointConfig `json:"endpoints" yaml:"endpoints"`
	Defaults  *DefaultsConfig            `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// LoadFromFile loads a registry configuration from a JSON file.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromJSON(data)
}

// LoadFromJSON loads a registry from JSON data.
// Accepts either a full config with a "models" key or just the registry config.
func LoadFromJSON(data []byte) (*Registry, error) {
	var fullConfig struct {
		Models *RegistryConfig `json:"models"`
	}
	if err := json.Unmarshal(data, &fullConfig); err == nil && fullConfig.Models != nil {
		return FromConfig(fullConfig.Models), nil
	}

	var regConfig RegistryConfig
	if err := json.Unmarshal(data, &regConfig); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}

	return FromConfig(&regConfig), nil
}

// FromConfig builds a Registry from its serialized form.
func FromConfig(cfg *RegistryConfig) *Registry {
	if cfg == nil {
		return NewRegistry(nil, nil)
	}
	endpoints := make(map[string]*EndpointConfig, len(cfg.Endpoints))
	for k, v := range cfg.Endpoints {
		if v == nil {
			continue
		}
		ep := *v
		endpoints[k] = &ep
	}
	var defaults *DefaultsConfig
	if cfg.Defaults != nil {
		d := *cfg.Defaults
		defaults = &d
	}
	return NewRegistry(endpoints, defaults)
}

// ToConfig converts a Registry to a RegistryConfig for serialization.
func (r *Registry) ToConfig() *RegistryConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	endpoints := make(map[string]*EndpointConfig, len(r.endpoints))
	for k, v := range r.endpoints {
		ep := *v
		endpoints[k] = &ep
	}
	defaults := *r.defaults
	return &RegistryConfig{
		Endpoints: endpoints,
		Defaults:  &defaults,
	}
}

// MergeFromConfig merges configuration into an existing registry.
// Existing entries are overwritten by the new config.
func (r *Registry) MergeFromConfig(cfg *RegistryConfig) {
	if cfg == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range cfg.Endpoints {
		if v == nil {
			continue
		}
		ep := *v
		r.endpoints[k] = &ep
	}

	if cfg.Defaults != nil {
		if cfg.Defaults.Model != "" {
			r.defaults.Model = cfg.Defaults.Model
		}
		if cfg.Defaults.Provider != "" {
			r.defaults.Provider = cfg.Defaults.Provider
		}
		if cfg.Defaults.URL != "" {
			r.defaults.URL = cfg.Defaults.URL
		}
	}
}
