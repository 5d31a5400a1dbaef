package model

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	endpoints := r.ListEndpoints()
	want := []string{"default", "fast", "search"}
	if len(endpoints) != len(want) {
		t.Fatalf("expected %d endpoints, got %v", len(want), endpoints)
	}
	for i, name := range want {
		if endpoints[i] != name {
			t.Errorf("endpoint[%d] = %q, want %q", i, endpoints[i], name)
		}
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewDefaultRegistry()

	tests := []struct {
		selector     string
		wantModel    string
		wantProvider string
		wantMode     string
	}{
		{"", "gpt-4o", "openai", ModeStructured},
		{"default", "gpt-4o", "openai", ModeStructured},
		{"fast", "gpt-4o-mini", "openai", ModeStructured},
		{"search", "gpt-4o-search-preview", "openai", ModeText},
		{"gpt-4o-mini-search-preview", "gpt-4o-mini-search-preview", "openai", ModeText},
		{"o3-mini", "o3-mini", "openai", ModeStructured},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			ep := r.Resolve(tt.selector)
			if ep == nil {
				t.Fatalf("Resolve(%q) returned nil", tt.selector)
			}
			if ep.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", ep.Model, tt.wantModel)
			}
			if ep.Provider != tt.wantProvider {
				t.Errorf("Provider = %q, want %q", ep.Provider, tt.wantProvider)
			}
			if ep.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", ep.Mode, tt.wantMode)
			}
		})
	}
}

func TestRegistryResolve_ReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	ep := r.Resolve("fast")
	ep.Model = "mutated"

	if got := r.Resolve("fast").Model; got != "gpt-4o-mini" {
		t.Errorf("registry entry was mutated through Resolve: %q", got)
	}
}

func TestRegistryResolve_NoDefault(t *testing.T) {
	r := NewRegistry(nil, nil)

	if ep := r.Resolve(""); ep != nil {
		t.Errorf("expected nil for empty selector without default, got %+v", ep)
	}

	ep := r.Resolve("llama3")
	if ep == nil || ep.Model != "llama3" || ep.Provider != "" {
		t.Errorf("unexpected raw resolution: %+v", ep)
	}
}

func TestRegistryResolve_ExplicitModeWins(t *testing.T) {
	r := NewRegistry(map[string]*EndpointConfig{
		"local": {Provider: "compat", URL: "http://localhost:11434/v1", Model: "qwen2.5", Mode: ModeText},
	}, &DefaultsConfig{Model: "local"})

	ep := r.Resolve("")
	if ep.Mode != ModeText {
		t.Errorf("Mode = %q, want %q", ep.Mode, ModeText)
	}
	if ep.URL != "http://localhost:11434/v1" {
		t.Errorf("URL = %q", ep.URL)
	}
}

func TestDefaultMode(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":                     ModeStructured,
		"gpt-4o-search-preview":      ModeText,
		"GPT-4o-Search-Preview":      ModeText,
		"gpt-4o-mini-search-preview": ModeText,
		"":                           ModeStructured,
	}
	for model, want := range tests {
		if got := DefaultMode(model); got != want {
			t.Errorf("DefaultMode(%q) = %q, want %q", model, got, want)
		}
	}
}

func TestRegistrySetters(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.SetEndpoint("local", &EndpointConfig{Provider: "compat", Model: "llama3"})
	r.SetDefault("local")

	if ep := r.GetEndpoint("local"); ep == nil || ep.Model != "llama3" {
		t.Fatalf("GetEndpoint(local) = %+v", ep)
	}
	if r.GetEndpoint("missing") != nil {
		t.Error("expected nil for missing endpoint")
	}
	if ep := r.Resolve(""); ep == nil || ep.Model != "llama3" {
		t.Errorf("Resolve default = %+v", ep)
	}
}

func TestRegistryMarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewDefaultRegistry())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Defaults == nil || cfg.Defaults.Model != "default" {
		t.Errorf("defaults not serialized: %+v", cfg.Defaults)
	}
	if cfg.Endpoints["search"] == nil || cfg.Endpoints["search"].Mode != ModeText {
		t.Errorf("search endpoint not serialized: %+v", cfg.Endpoints["search"])
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewDefaultRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Resolve("fast")
			_ = r.ListEndpoints()
		}()
		go func(i int) {
			defer wg.Done()
			r.SetEndpoint("dynamic", &EndpointConfig{Provider: "openai", Model: "gpt-4o"})
		}(i)
	}
	wg.Wait()
}
