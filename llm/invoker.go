// Package llm wraps outbound LLM calls in a retrying invoker. Each invocation
// makes up to MaxAttempts calls, decodes every response against the caller's
// schema and backs off exponentially between failures.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/seminvoke/model"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/c360studio/seminvoke/llm"

// Invoker runs invocations against a Caller. It holds no per-invocation
// state and is safe for concurrent use.
type Invoker struct {
	caller      Caller
	registry    *model.Registry
	retryConfig RetryConfig
	policy      BackoffPolicy
	decoders    map[Mode]Decoder
	sleep       SleepFunc
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer

	// callStore optionally publishes a record per invocation.
	// If nil, recording is disabled.
	callStore *CallStore
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRetryConfig sets the default retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(i *Invoker) {
		i.retryConfig = cfg
	}
}

// WithBackoffPolicy replaces the policy derived from the retry configuration.
// Requests that carry their own RetryConfig still use its policy.
func WithBackoffPolicy(p BackoffPolicy) Option {
	return func(i *Invoker) {
		i.policy = p
	}
}

// WithRegistry resolves request model selectors through a registry.
func WithRegistry(r *model.Registry) Option {
	return func(i *Invoker) {
		i.registry = r
	}
}

// WithDecoder overrides the decoder used for a mode.
func WithDecoder(mode Mode, d Decoder) Option {
	return func(i *Invoker) {
		i.decoders[mode] = d
	}
}

// WithSleep sets the function used to wait between attempts.
func WithSleep(fn SleepFunc) Option {
	return func(i *Invoker) {
		i.sleep = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Invoker) {
		i.logger = logger
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(i *Invoker) {
		i.metrics = m
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Invoker) {
		i.tracer = tp.Tracer(tracerName)
	}
}

// WithCallStore publishes an invocation record after every invocation.
func WithCallStore(store *CallStore) Option {
	return func(i *Invoker) {
		i.callStore = store
	}
}

// NewInvoker creates an invoker around a caller.
func NewInvoker(caller Caller, opts ...Option) *Invoker {
	i := &Invoker{
		caller:      caller,
		retryConfig: DefaultRetryConfig(),
		decoders: map[Mode]Decoder{
			ModeStructured: StructuredDecoder{},
			ModeText:       TextDecoder{},
		},
		sleep:  DefaultSleep,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// Invoke runs one invocation and returns the decoded JSON value.
func (i *Invoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	return i.invoke(ctx, req, nil)
}

// InvokeAs runs one invocation and unmarshals the decoded value into T.
// A value that does not unmarshal into T fails the attempt like a schema mismatch.
func InvokeAs[T any](ctx context.Context, i *Invoker, req Request) (T, *Result, error) {
	var out T
	res, err := i.invoke(ctx, req, func(doc json.RawMessage) error {
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return &SchemaMismatch{
				Schema: schemaName(req.Schema),
				Raw:    string(doc),
				Err:    fmt.Errorf("decode into %T: %w", v, err),
			}
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, nil, err
	}
	return out, res, nil
}

// target is the resolved destination of an invocation.
type target struct {
	model     string
	provider  string
	mode      Mode
	maxTokens int
}

func (i *Invoker) resolve(req Request) target {
	t := target{model: req.Model, mode: req.Mode, maxTokens: req.MaxTokens}
	if i.registry != nil {
		if ep := i.registry.Resolve(req.Model); ep != nil {
			t.model = ep.Model
			t.provider = ep.Provider
			if t.maxTokens <= 0 {
				t.maxTokens = ep.MaxTokens
			}
			if t.mode == "" {
				t.mode = ParseMode(ep.Mode)
			}
		}
	}
	if t.mode == "" {
		t.mode = ParseMode(model.DefaultMode(t.model))
	}
	// Without a schema there is nothing for the provider to enforce.
	if t.mode == ModeStructured && req.Schema == nil {
		t.mode = ModeText
	}
	return t
}

func (i *Invoker) decoderFor(mode Mode) Decoder {
	if d, ok := i.decoders[mode]; ok {
		return d
	}
	return DecoderFor(mode)
}

func (i *Invoker) invoke(ctx context.Context, req Request, finish func(json.RawMessage) error) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	if i.caller == nil {
		return nil, fmt.Errorf("invoker has no caller")
	}

	retry := i.retryConfig
	policy := i.policy
	if req.Retry != nil {
		retry = *req.Retry
		policy = nil
	}
	retry = retry.normalized()
	if policy == nil {
		policy = retry.Policy()
	}

	t := i.resolve(req)
	decoder := i.decoderFor(t.mode)
	requestID := uuid.NewString()
	startedAt := time.Now()

	ctx, span := i.tracer.Start(ctx, "llm.invoke", trace.WithAttributes(
		attribute.String("llm.request_id", requestID),
		attribute.String("llm.model", t.model),
		attribute.String("llm.mode", string(t.mode)),
		attribute.Int("llm.max_attempts", retry.MaxAttempts),
	))
	defer span.End()

	logger := i.logger.With("request_id", requestID, "model", t.model, "mode", t.mode)

	callReq := CallRequest{
		Model:       t.model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   t.maxTokens,
		Structured:  t.mode == ModeStructured,
		Schema:      req.Schema,
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		attempts = attempt
		logger.Debug("Invoking model", "attempt", attempt, "max_attempts", retry.MaxAttempts)

		value, resp, err := i.attempt(ctx, callReq, decoder, req.Schema, finish)
		i.metrics.observeAttempt(err)
		if err == nil {
			res := &Result{
				RequestID: requestID,
				Value:     value,
				Content:   resp.Content,
				Model:     firstNonEmpty(resp.Model, t.model),
				Mode:      t.mode,
				Attempts:  attempt,
				Usage:     resp.Usage,
				Duration:  time.Since(startedAt),
			}
			logger.Debug("Invocation succeeded", "attempts", attempt, "duration", res.Duration)
			span.SetAttributes(attribute.Int("llm.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			i.metrics.observeOutcome(OutcomeSucceeded, attempt)
			i.recordCall(ctx, req, t, requestID, startedAt, attempt, resp, nil)
			return res, nil
		}

		lastErr = err
		failure := &AttemptFailure{Attempt: attempt, Err: err}
		logger.Warn("Attempt failed",
			"attempt", attempt,
			"max_attempts", retry.MaxAttempts,
			"schema_mismatch", IsSchemaMismatch(err),
			"error", failure)
		span.AddEvent("attempt_failed", trace.WithAttributes(
			attribute.Int("llm.attempt", attempt),
			attribute.String("error", err.Error()),
		))

		if IsFatal(err) {
			logger.Warn("Fatal error, not retrying", "attempt", attempt, "error", err)
			break
		}
		if attempt == retry.MaxAttempts {
			break
		}

		backoff := policy.Delay(attempt)
		i.metrics.observeBackoff(backoff)
		logger.Debug("Backing off before retry", "attempt", attempt, "backoff", backoff)
		if sleepErr := i.sleep(ctx, backoff); sleepErr != nil {
			lastErr = fmt.Errorf("%w: %w", sleepErr, lastErr)
			break
		}
	}

	exhausted := &ExhaustedRetries{Attempts: attempts, Err: lastErr}
	logger.Error("Invocation failed", "attempts", attempts, "error", lastErr)
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, exhausted.Error())
	i.metrics.observeOutcome(OutcomeExhausted, attempts)
	i.recordCall(ctx, req, t, requestID, startedAt, attempts, nil, exhausted)
	return nil, exhausted
}

// attempt makes one call and decodes its response.
func (i *Invoker) attempt(ctx context.Context, callReq CallRequest, decoder Decoder, schema Schema, finish func(json.RawMessage) error) (json.RawMessage, *Response, error) {
	resp, err := i.caller.Call(ctx, callReq)
	if err != nil {
		return nil, nil, err
	}
	if resp == nil {
		return nil, nil, errors.New("provider returned no response")
	}

	value, err := decoder.Decode(resp, schema)
	if err != nil {
		return nil, resp, err
	}
	if finish != nil {
		if err := finish(value); err != nil {
			return nil, resp, err
		}
	}
	return value, resp, nil
}

// recordCall stores an invocation record if the call store is configured.
// Failures are logged but don't affect the invocation.
func (i *Invoker) recordCall(ctx context.Context, req Request, t target, requestID string, startedAt time.Time, attempts int, resp *Response, err error) {
	if i.callStore == nil {
		return
	}

	tc := GetTraceContext(ctx)
	traceID := tc.TraceID
	if sc := trace.SpanContextFromContext(ctx); traceID == "" && sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}

	completedAt := time.Now()
	record := &CallRecord{
		RequestID:     requestID,
		TraceID:       traceID,
		LoopID:        tc.LoopID,
		Model:         t.model,
		Provider:      t.provider,
		Mode:          t.mode,
		Schema:        schemaName(req.Schema),
		Outcome:       OutcomeSucceeded,
		Attempts:      attempts,
		MessagesCount: len(req.Messages),
		StartedAt:     startedAt,
		CompletedAt:   completedAt,
		DurationMs:    completedAt.Sub(startedAt).Milliseconds(),
	}
	if resp != nil {
		record.Model = firstNonEmpty(resp.Model, t.model)
		record.ResponsePreview = previewOf(resp.Content)
		record.PromptTokens = resp.Usage.PromptTokens
		record.CompletionTokens = resp.Usage.CompletionTokens
		record.TotalTokens = resp.Usage.TotalTokens
	}
	if err != nil {
		record.Outcome = OutcomeExhausted
		record.Error = err.Error()
	}

	if storeErr := i.callStore.Store(context.WithoutCancel(ctx), record); storeErr != nil {
		i.logger.Warn("Failed to record invocation",
			"request_id", requestID,
			"trace_id", traceID,
			"error", storeErr)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
