// Package providers implements llm.Caller for concrete LLM APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/seminvoke/llm"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// DefaultCompatURL is the base URL used when none is configured (local Ollama).
const DefaultCompatURL = "http://localhost:11434/v1"

// Compat calls OpenAI-compatible chat completion endpoints (Ollama, vLLM,
// OpenRouter) over plain HTTP.
type Compat struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	headers    map[string]string
}

// CompatOption configures a Compat caller.
type CompatOption func(*Compat)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) CompatOption {
	return func(p *Compat) {
		p.httpClient = c
	}
}

// WithHeader adds a static request header (e.g. OpenRouter's HTTP-Referer).
func WithHeader(key, value string) CompatOption {
	return func(p *Compat) {
		p.headers[key] = value
	}
}

// NewCompat creates a caller for an OpenAI-compatible endpoint.
func NewCompat(baseURL, apiKey string, opts ...CompatOption) *Compat {
	c := &Compat{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // Allow time for LLM responses
		},
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildURL constructs the chat completions endpoint.
func (c *Compat) BuildURL() string {
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = DefaultCompatURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// compatRequest is the OpenAI-compatible request format.
type compatRequest struct {
	Model          string          `json:"model"`
	Messages       []compatMessage `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type compatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *jsonSchemaSpec `json:"json_schema,omitempty"`
}

type jsonSchemaSpec struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

// BuildRequestBody creates the OpenAI-compatible request body.
func (c *Compat) BuildRequestBody(req llm.CallRequest) ([]byte, error) {
	messages := make([]compatMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = compatMessage{Role: msg.Role, Content: msg.Content}
	}

	body := compatRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature, // nil = use default, 0 = deterministic
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		body.MaxTokens = &maxTokens
	}
	if req.Structured && req.Schema != nil {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaSpec{
				Name:   req.Schema.Name(),
				Schema: req.Schema.Definition(),
				Strict: llm.StrictSchema(req.Schema.Definition()),
			},
		}
	}

	return json.Marshal(body)
}

// compatResponse is the OpenAI-compatible response format.
type compatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts content from an OpenAI-compatible response.
// In structured mode valid JSON content is exposed as Response.Structured.
func ParseResponse(body []byte, structured bool) (*llm.Response, error) {
	var resp compatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content: choice.Message.Content,
		Refusal: choice.Message.Refusal,
		Model:   resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: choice.FinishReason,
	}
	if structured && json.Valid([]byte(choice.Message.Content)) {
		out.Structured = json.RawMessage(choice.Message.Content)
	}
	return out, nil
}

// Call implements llm.Caller with a single HTTP request.
func (c *Compat) Call(ctx context.Context, req llm.CallRequest) (*llm.Response, error) {
	body, err := c.BuildRequestBody(req)
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BuildURL(), bytes.NewReader(body))
	if err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are transient
		return nil, llm.NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, llm.NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, ClassifyHTTPError(httpResp.StatusCode, respBody)
	}

	return ParseResponse(respBody, req.Structured)
}

// ClassifyHTTPError determines if an HTTP error is transient or fatal.
func ClassifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	return classifyStatus(statusCode, fmt.Errorf("LLM API error (status %d): %s", statusCode, bodyStr))
}

func classifyStatus(statusCode int, err error) error {
	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout:
		return llm.NewTransientError(err)
	case statusCode >= 500:
		return llm.NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusBadRequest,
		statusCode == http.StatusNotFound:
		return llm.NewFatalError(err)
	default:
		// Unknown statuses are left unclassified and retried.
		return err
	}
}
