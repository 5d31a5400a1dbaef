package scenarios

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/llm/providers"
	"github.com/c360studio/seminvoke/storage"
	"github.com/c360studio/seminvoke/test/e2e/client"
	"github.com/c360studio/seminvoke/test/e2e/config"
)

// verdictSchema is the answer shape every verdict fixture is checked against.
const verdictSchema = `{
	"type": "object",
	"properties": {
		"verdict": {"type": "string", "enum": ["approved", "rejected"]},
		"reason": {"type": "string"}
	},
	"required": ["verdict"]
}`

// harness holds what every scenario needs: an invoker wired to the mock
// LLM server that records into NATS and the e2e KV bucket.
type harness struct {
	cfg     *config.Config
	mock    *client.MockLLMClient
	nats    *client.NATSClient
	records *storage.Store
	invoker *llm.Invoker
	schema  *llm.JSONSchema
}

func (h *harness) setup(ctx context.Context) error {
	h.mock = client.NewMockLLMClient(h.cfg.MockLLMURL)
	if err := h.mock.Healthy(ctx); err != nil {
		return fmt.Errorf("mock-llm not reachable at %s: %w", h.cfg.MockLLMURL, err)
	}
	if err := h.mock.Reset(ctx); err != nil {
		return fmt.Errorf("reset mock-llm: %w", err)
	}

	nc, err := client.NewNATSClient(h.cfg.NATSURL)
	if err != nil {
		return err
	}
	h.nats = nc

	h.records, err = storage.NewStore(ctx, nc.JetStreamContext(),
		storage.WithBucket(config.RecordBucket),
		storage.WithTTL(time.Hour))
	if err != nil {
		return err
	}

	calls, err := llm.NewCallStore(llm.FanOut{llm.NewNATSPublisher(nc.Conn()), h.records},
		llm.WithSubjectPrefix(config.SubjectPrefix))
	if err != nil {
		return err
	}

	h.schema, err = llm.NewJSONSchema("verdict", []byte(verdictSchema))
	if err != nil {
		return err
	}

	h.invoker = llm.NewInvoker(providers.NewCompat(h.mock.ChatURL(), ""),
		llm.WithRetryConfig(llm.RetryConfig{
			MaxAttempts:       3,
			BackoffBase:       50 * time.Millisecond,
			BackoffMultiplier: 2,
		}),
		llm.WithCallStore(calls),
		llm.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return nil
}

func (h *harness) teardown() error {
	if h.nats != nil {
		return h.nats.Close()
	}
	return nil
}

func (h *harness) request(model string, mode llm.Mode) llm.Request {
	return llm.Request{
		Model:  model,
		Mode:   mode,
		Schema: h.schema,
		Messages: []llm.Message{
			{Role: "system", Content: "You review pull requests. Answer with a verdict."},
			{Role: "user", Content: "Review: rename Foo to Bar across the package."},
		},
	}
}

// expectCalls checks the mock LLM saw exactly want calls for model.
func (h *harness) expectCalls(ctx context.Context, model string, want int64) error {
	stats, err := h.mock.GetStats(ctx)
	if err != nil {
		return err
	}
	if got := stats.CallsByModel[model]; got != want {
		return fmt.Errorf("mock-llm saw %d call(s) for %s, want %d", got, model, want)
	}
	return nil
}

// expectRecord waits for the published record and checks the stored copy.
func (h *harness) expectRecord(ctx context.Context, capture *client.MessageCapture, outcome string, attempts int) (*llm.CallRecord, error) {
	waitCtx, cancel := context.WithTimeout(ctx, config.DefaultWaitTimeout)
	defer cancel()
	if err := capture.WaitForCount(waitCtx, 1); err != nil {
		return nil, err
	}

	msg := capture.Messages()[0]
	if want := config.SubjectPrefix + "." + outcome; msg.Subject != want {
		return nil, fmt.Errorf("record published on %s, want %s", msg.Subject, want)
	}
	var published llm.CallRecord
	if err := json.Unmarshal(msg.Data, &published); err != nil {
		return nil, fmt.Errorf("decode published record: %w", err)
	}

	stored, err := h.records.Get(ctx, published.RequestID)
	if err != nil {
		return nil, fmt.Errorf("stored record %s: %w", published.RequestID, err)
	}
	if stored.Outcome != outcome || stored.Attempts != attempts {
		return nil, fmt.Errorf("stored record has outcome %s after %d attempt(s), want %s after %d",
			stored.Outcome, stored.Attempts, outcome, attempts)
	}
	return stored, nil
}
