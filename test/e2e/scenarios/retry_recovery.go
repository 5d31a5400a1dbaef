package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/test/e2e/client"
	"github.com/c360studio/seminvoke/test/e2e/config"
)

// RetryRecoveryScenario recovers from a 503 and a non-JSON answer before
// getting a valid verdict on the third attempt.
type RetryRecoveryScenario struct {
	h harness
}

// NewRetryRecoveryScenario creates the scenario.
func NewRetryRecoveryScenario(cfg *config.Config) *RetryRecoveryScenario {
	return &RetryRecoveryScenario{h: harness{cfg: cfg}}
}

// Name implements Scenario.
func (s *RetryRecoveryScenario) Name() string { return "retry-recovery" }

// Description implements Scenario.
func (s *RetryRecoveryScenario) Description() string {
	return "503, then a non-JSON answer, then a valid verdict: succeeds on attempt 3"
}

// Setup implements Scenario.
func (s *RetryRecoveryScenario) Setup(ctx context.Context) error { return s.h.setup(ctx) }

// Teardown implements Scenario.
func (s *RetryRecoveryScenario) Teardown(context.Context) error { return s.h.teardown() }

// Execute implements Scenario.
func (s *RetryRecoveryScenario) Execute(ctx context.Context) (*Result, error) {
	result := NewResult(s.Name())

	capture, err := s.h.nats.CaptureMessages(config.SubjectPrefix + ".>")
	if err != nil {
		return nil, err
	}
	defer func() { _ = capture.Stop() }()

	var res *llm.Result
	if !result.Stage("invoke", func() error {
		res, err = s.h.invoker.Invoke(ctx, s.h.request(config.ModelFlakyVerdict, llm.ModeStructured))
		if err != nil {
			return err
		}
		if res.Attempts != 3 {
			return fmt.Errorf("succeeded after %d attempt(s), want 3", res.Attempts)
		}
		if !strings.Contains(string(res.Value), "approved") {
			return fmt.Errorf("unexpected value %s", res.Value)
		}
		result.SetDetail("request_id", res.RequestID)
		result.SetMetric("duration_ms", res.Duration.Milliseconds())
		return nil
	}) {
		return result.Finish(), nil
	}

	result.Stage("mock-llm-calls", func() error {
		if err := s.h.expectCalls(ctx, config.ModelFlakyVerdict, 3); err != nil {
			return err
		}
		reqs, err := s.h.mock.GetRequests(ctx, config.ModelFlakyVerdict, 0)
		if err != nil {
			return err
		}
		return expectStructured(reqs, true, "verdict")
	})

	result.Stage("record", func() error {
		rec, err := s.h.expectRecord(ctx, capture, llm.OutcomeSucceeded, 3)
		if err != nil {
			return err
		}
		if rec.RequestID != res.RequestID {
			return fmt.Errorf("record %s does not match invocation %s", rec.RequestID, res.RequestID)
		}
		return nil
	})

	return result.Finish(), nil
}

func expectStructured(reqs []client.CapturedRequest, structured bool, schema string) error {
	if len(reqs) == 0 {
		return fmt.Errorf("no captured requests")
	}
	for _, r := range reqs {
		if r.Structured != structured {
			return fmt.Errorf("call %d: structured=%v, want %v", r.CallIndex, r.Structured, structured)
		}
		if structured && r.SchemaName != schema {
			return fmt.Errorf("call %d: schema %q, want %q", r.CallIndex, r.SchemaName, schema)
		}
	}
	return nil
}
