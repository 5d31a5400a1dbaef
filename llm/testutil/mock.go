// Package testutil provides test utilities for the llm package.
// It includes a scripted Caller for exercising retry schedules.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/c360studio/seminvoke/llm"
)

// Step is one scripted attempt outcome. Err takes precedence over Response.
type Step struct {
	Response *llm.Response
	Err      error
}

// Fail returns a step that fails with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Text returns a step that answers with free text.
func Text(content string) Step {
	return Step{Response: &llm.Response{Content: content, Model: "test-model"}}
}

// Structured returns a step that answers with provider-parsed JSON.
func Structured(doc string) Step {
	return Step{Response: &llm.Response{
		Content:    doc,
		Structured: json.RawMessage(doc),
		Model:      "test-model",
	}}
}

// MockCaller is a thread-safe scripted llm.Caller.
//
// Usage:
//
//	// Fail twice, then succeed
//	mock := &MockCaller{
//	    Steps: []Step{
//	        Fail(errors.New("connection reset")),
//	        Text("not json"),
//	        Text(`{"result": "success"}`),
//	    },
//	}
//
// After the script is exhausted the last step repeats. With no steps the
// mock returns ErrNoSteps.
type MockCaller struct {
	mu        sync.Mutex
	Steps     []Step
	callCount int
	requests  []llm.CallRequest
	contexts  []context.Context
}

// ErrNoSteps is returned by a MockCaller with an empty script.
var ErrNoSteps = errors.New("mock caller has no scripted steps")

// Call implements llm.Caller.
func (m *MockCaller) Call(ctx context.Context, req llm.CallRequest) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	m.requests = append(m.requests, req)
	m.contexts = append(m.contexts, ctx)

	if len(m.Steps) == 0 {
		return nil, ErrNoSteps
	}
	idx := m.callCount - 1
	if idx >= len(m.Steps) {
		idx = len(m.Steps) - 1
	}
	step := m.Steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// GetCallCount returns the number of times Call() was invoked.
func (m *MockCaller) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Requests returns copies of the requests received so far.
func (m *MockCaller) Requests() []llm.CallRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CallRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetCapturedContext returns the context passed to the last Call().
func (m *MockCaller) GetCapturedContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.contexts) == 0 {
		return nil
	}
	return m.contexts[len(m.contexts)-1]
}

// Reset clears the call history while keeping the script.
func (m *MockCaller) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.requests = nil
	m.contexts = nil
}

// SleepRecorder is an llm.SleepFunc that records delays instead of waiting.
type SleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns ctx.Err().
func (s *SleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns the recorded delays in order.
func (s *SleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}

// MemoryPublisher is an llm.Publisher that keeps messages in memory.
type MemoryPublisher struct {
	mu       sync.Mutex
	Err      error
	messages []PublishedMessage
}

// PublishedMessage is one message captured by MemoryPublisher.
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// Publish implements llm.Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.messages = append(p.messages, PublishedMessage{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

// Messages returns the captured messages.
func (p *MemoryPublisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
