package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/test/e2e/config"
)

// SearchPreviewScenario checks that search-preview models are called in
// text mode and their JSON is extracted from a prose answer.
type SearchPreviewScenario struct {
	h harness
}

// NewSearchPreviewScenario creates the scenario.
func NewSearchPreviewScenario(cfg *config.Config) *SearchPreviewScenario {
	return &SearchPreviewScenario{h: harness{cfg: cfg}}
}

// Name implements Scenario.
func (s *SearchPreviewScenario) Name() string { return "search-preview" }

// Description implements Scenario.
func (s *SearchPreviewScenario) Description() string {
	return "Search-preview model: no response_format, JSON extracted from prose"
}

// Setup implements Scenario.
func (s *SearchPreviewScenario) Setup(ctx context.Context) error { return s.h.setup(ctx) }

// Teardown implements Scenario.
func (s *SearchPreviewScenario) Teardown(context.Context) error { return s.h.teardown() }

// Execute implements Scenario.
func (s *SearchPreviewScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())

	result.Stage("invoke", func() error {
		// No mode: the model name selects text mode.
		res, err := s.h.invoker.Invoke(ctx, s.h.request(config.ModelSearch, ""))
		if err != nil {
			return err
		}
		if res.Mode != llm.ModeText {
			return fmt.Errorf("mode %s, want %s", res.Mode, llm.ModeText)
		}
		if res.Attempts != 1 {
			return fmt.Errorf("succeeded after %d attempt(s), want 1", res.Attempts)
		}
		if !strings.Contains(string(res.Value), "rejected") {
			return fmt.Errorf("unexpected value %s", res.Value)
		}
		return nil
	})

	result.Stage("no-response-format", func() error {
		reqs, err := s.h.mock.GetRequests(ctx, config.ModelSearch, 0)
		if err != nil {
			return err
		}
		return expectStructured(reqs, false, "")
	})

	return result.Finish(), nil
}
