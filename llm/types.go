package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Mode selects how a provider response is decoded.
type Mode string

const (
	// ModeStructured asks the provider to enforce the schema and passes its
	// parsed output through.
	ModeStructured Mode = "structured"

	// ModeText treats the response as free text, extracts JSON from it and
	// validates it against the schema.
	ModeText Mode = "text"
)

// ParseMode converts a string to a Mode. Unknown values return "".
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeStructured, ModeText:
		return Mode(s)
	default:
		return ""
	}
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content
}

// Request defines one invocation. It is not modified by the invoker.
type Request struct {
	// Messages is the prompt payload sent on every attempt.
	Messages []Message

	// Model selects the endpoint or model. Empty uses the invoker default.
	Model string

	// Schema describes the expected response shape. Nil accepts any JSON
	// object or array in text mode.
	Schema Schema

	// Mode overrides the decoder chosen for the resolved model.
	Mode Mode

	// Retry overrides the invoker's retry configuration for this call.
	Retry *RetryConfig

	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int
}

// CallRequest is what a Caller receives for a single attempt.
type CallRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int

	// Structured asks the provider to enforce Schema server-side.
	Structured bool
	Schema     Schema
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the raw provider output of one attempt.
type Response struct {
	// Content is the generated text.
	Content string

	// Structured holds provider-parsed JSON when the call was structured.
	Structured json.RawMessage

	// Refusal is set when the provider declined to produce output.
	Refusal string

	// Model is the actual model that was used.
	Model string

	// Usage contains token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// Result is the successful outcome of an invocation.
type Result struct {
	// RequestID uniquely identifies the invocation.
	RequestID string `json:"request_id"`

	// Value is the decoded, schema-conformant JSON document.
	Value json.RawMessage `json:"value"`

	// Content is the raw text of the successful attempt.
	Content string `json:"content,omitempty"`

	// Model is the model that produced the value.
	Model string `json:"model"`

	// Mode is the decoder used.
	Mode Mode `json:"mode"`

	// Attempts is the number of attempts made, including the successful one.
	Attempts int `json:"attempts"`

	// Usage is the token usage of the successful attempt.
	Usage TokenUsage `json:"usage"`

	// Duration is the wall time of the whole invocation.
	Duration time.Duration `json:"duration"`
}

// Caller is the remote capability wrapped by the invoker.
type Caller interface {
	Call(ctx context.Context, req CallRequest) (*Response, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req CallRequest) (*Response, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, req CallRequest) (*Response, error) {
	return f(ctx, req)
}
