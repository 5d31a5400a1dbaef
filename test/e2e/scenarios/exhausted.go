package scenarios

import (
	"context"
	"errors"
	"fmt"

	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/test/e2e/config"
)

// ExhaustedScenario runs against an endpoint that always answers 503 and
// against one that answers 401, checking the attempt counts of each.
type ExhaustedScenario struct {
	h harness
}

// NewExhaustedScenario creates the scenario.
func NewExhaustedScenario(cfg *config.Config) *ExhaustedScenario {
	return &ExhaustedScenario{h: harness{cfg: cfg}}
}

// Name implements Scenario.
func (s *ExhaustedScenario) Name() string { return "exhausted" }

// Description implements Scenario.
func (s *ExhaustedScenario) Description() string {
	return "A down endpoint exhausts all 3 attempts; a 401 stops after 1"
}

// Setup implements Scenario.
func (s *ExhaustedScenario) Setup(ctx context.Context) error { return s.h.setup(ctx) }

// Teardown implements Scenario.
func (s *ExhaustedScenario) Teardown(context.Context) error { return s.h.teardown() }

// Execute implements Scenario.
func (s *ExhaustedScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())

	capture, err := s.h.nats.CaptureMessages(config.SubjectPrefix + ".exhausted")
	if err != nil {
		return nil, err
	}
	defer func() { _ = capture.Stop() }()

	result.Stage("transient-exhausts", func() error {
		_, err := s.h.invoker.Invoke(ctx, s.h.request(config.ModelDownVerdict, llm.ModeStructured))
		var exhausted *llm.ExhaustedRetries
		if !errors.As(err, &exhausted) {
			return fmt.Errorf("expected ExhaustedRetries, got %v", err)
		}
		if exhausted.Attempts != 3 {
			return fmt.Errorf("exhausted after %d attempt(s), want 3", exhausted.Attempts)
		}
		if !llm.IsTransient(err) {
			return fmt.Errorf("last error should be transient: %v", err)
		}
		return s.h.expectCalls(ctx, config.ModelDownVerdict, 3)
	})

	result.Stage("record", func() error {
		_, err := s.h.expectRecord(ctx, capture, llm.OutcomeExhausted, 3)
		return err
	})

	result.Stage("fatal-stops-early", func() error {
		_, err := s.h.invoker.Invoke(ctx, s.h.request(config.ModelRejected, llm.ModeStructured))
		var exhausted *llm.ExhaustedRetries
		if !errors.As(err, &exhausted) {
			return fmt.Errorf("expected ExhaustedRetries, got %v", err)
		}
		if exhausted.Attempts != 1 || !llm.IsFatal(err) {
			return fmt.Errorf("want a fatal error after 1 attempt, got %v", err)
		}
		return s.h.expectCalls(ctx, config.ModelRejected, 1)
	})

	return result.Finish(), nil
}
