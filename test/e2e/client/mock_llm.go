package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MockLLMClient provides operations against the mock LLM server for e2e testing.
type MockLLMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMockLLMClient creates a new client for the mock LLM server.
func NewMockLLMClient(baseURL string) *MockLLMClient {
	return &MockLLMClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ChatURL is the base URL an OpenAI-compatible caller should use.
func (c *MockLLMClient) ChatURL() string {
	return c.baseURL + "/v1"
}

// MockStats contains call statistics from the mock LLM server.
type MockStats struct {
	TotalCalls   int64            `json:"total_calls"`
	FailedCalls  int64            `json:"failed_calls"`
	CallsByModel map[string]int64 `json:"calls_by_model"`
}

// CapturedRequest is one request seen by the mock LLM server.
type CapturedRequest struct {
	Model      string `json:"model"`
	Structured bool   `json:"structured"`
	SchemaName string `json:"schema_name,omitempty"`
	CallIndex  int    `json:"call_index"`
	Status     int    `json:"status"`
}

// GetStats retrieves call statistics from the mock LLM server.
func (c *MockLLMClient) GetStats(ctx context.Context) (*MockStats, error) {
	var stats MockStats
	if err := c.getJSON(ctx, "/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetRequests returns the requests captured for model. A positive call
// selects a single 1-indexed call.
func (c *MockLLMClient) GetRequests(ctx context.Context, model string, call int) ([]CapturedRequest, error) {
	q := url.Values{"model": {model}}
	if call > 0 {
		q.Set("call", strconv.Itoa(call))
	}
	var out struct {
		RequestsByModel map[string][]CapturedRequest `json:"requests_by_model"`
	}
	if err := c.getJSON(ctx, "/requests?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.RequestsByModel[model], nil
}

// Reset restarts every fixture sequence.
func (c *MockLLMClient) Reset(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reset", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Healthy reports whether the server answers /health.
func (c *MockLLMClient) Healthy(ctx context.Context) error {
	var out map[string]string
	return c.getJSON(ctx, "/health", &out)
}

func (c *MockLLMClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
