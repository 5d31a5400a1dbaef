package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the NATS subject prefix for invocation records.
// Records are published to "<prefix>.<outcome>".
const DefaultSubjectPrefix = "llm.invocation"

// responsePreviewMaxLen is the maximum length of the response preview in a record.
const responsePreviewMaxLen = 500

// CallRecord summarises one finished invocation. Individual attempts are
// not recorded; only their count.
type CallRecord struct {
	// RequestID uniquely identifies the invocation.
	RequestID string `json:"request_id"`

	// TraceID correlates this invocation with other work in the same flow.
	TraceID string `json:"trace_id,omitempty"`

	// LoopID is the caller loop that initiated this invocation (if any).
	LoopID string `json:"loop_id,omitempty"`

	// Model is the resolved model identifier.
	Model string `json:"model"`

	// Provider is the endpoint provider (openai, compat, ...).
	Provider string `json:"provider,omitempty"`

	// Mode is the decoder used.
	Mode Mode `json:"mode"`

	// Schema is the name of the expected response schema.
	Schema string `json:"schema,omitempty"`

	// Outcome is OutcomeSucceeded or OutcomeExhausted.
	Outcome string `json:"outcome"`

	// Attempts is the number of attempts made.
	Attempts int `json:"attempts"`

	// MessagesCount is the number of prompt messages.
	MessagesCount int `json:"messages_count"`

	// ResponsePreview is the start of the successful response.
	ResponsePreview string `json:"response_preview,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMs  int64     `json:"duration_ms"`

	// Error contains the terminal error message if the invocation failed.
	Error string `json:"error,omitempty"`
}

// Publisher delivers encoded records to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes records on a core NATS connection.
type NATSPublisher struct {
	nc *nats.Conn
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.nc.Publish(subject, data)
}

// FanOut delivers every record to each publisher in order. Failures are
// joined; a failing publisher does not stop the others.
type FanOut []Publisher

// Publish implements Publisher.
func (f FanOut) Publish(ctx context.Context, subject string, data []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, subject, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CallStore publishes invocation records.
type CallStore struct {
	pub           Publisher
	logger        *slog.Logger
	subjectPrefix string
}

// CallStoreOption configures a CallStore.
type CallStoreOption func(*CallStore)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) CallStoreOption {
	return func(s *CallStore) {
		s.subjectPrefix = prefix
	}
}

// WithStoreLogger sets the logger for the call store.
func WithStoreLogger(logger *slog.Logger) CallStoreOption {
	return func(s *CallStore) {
		s.logger = logger
	}
}

// NewCallStore creates a call store on top of a publisher.
func NewCallStore(pub Publisher, opts ...CallStoreOption) (*CallStore, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher required")
	}

	s := &CallStore{
		pub:           pub,
		logger:        slog.Default(),
		subjectPrefix: DefaultSubjectPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Subject returns the subject a record is published to.
func (s *CallStore) Subject(record *CallRecord) string {
	outcome := record.Outcome
	if outcome == "" {
		outcome = "unknown"
	}
	return s.subjectPrefix + "." + outcome
}

// Store publishes a record.
func (s *CallStore) Store(ctx context.Context, record *CallRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if record.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	subject := s.Subject(record)
	if err := s.pub.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish call record: %w", err)
	}

	s.logger.Debug("Published invocation record",
		"subject", subject,
		"request_id", record.RequestID,
		"trace_id", record.TraceID,
		"outcome", record.Outcome)
	return nil
}

// SortByStartTime sorts records chronologically by StartedAt.
func SortByStartTime(records []*CallRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}

func previewOf(content string) string {
	if len(content) > responsePreviewMaxLen {
		return content[:responsePreviewMaxLen] + "..."
	}
	return content
}

// TraceContext holds trace information carried on the context.
type TraceContext struct {
	TraceID string
	LoopID  string
}

type traceContextKey struct{}

// WithTraceContext adds trace information to a context.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// GetTraceContext extracts trace information from a context.
func GetTraceContext(ctx context.Context) TraceContext {
	if tc, ok := ctx.Value(traceContextKey{}).(TraceContext); ok {
		return tc
	}
	return TraceContext{}
}
