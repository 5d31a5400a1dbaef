// Package main implements a mock LLM server for exercising retry behavior.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, routing by the "model" field in the request, so invocations can be
// replayed offline and deterministically.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 11434 -fail-first 2 -fail-status 503
//
// Fixture files are named by model: "verdict.json" answers model "verdict"
// with its JSON content, "search.txt" answers with free text. Numbered files
// ("verdict.1.json", "verdict.2.fault") are served in order and the last one
// repeats. A ".fault" fixture holds {"status": 503, "body": "..."} and makes
// that call fail with the given status.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string `json:"type"`
	JSONSchema *struct {
		Name string `json:"name"`
	} `json:"json_schema,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Fixtures ---

// fixture is one scripted answer. A non-zero Status makes the call fail.
type fixture struct {
	Content string
	Status  int    `json:"status"`
	Body    string `json:"body"`
}

func (f fixture) fault() bool { return f.Status != 0 }

// --- Server ---

// capturedRequest stores the key fields of an incoming LLM request for test verification.
type capturedRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Structured bool          `json:"structured"`
	SchemaName string        `json:"schema_name,omitempty"`
	CallIndex  int           `json:"call_index"` // 1-indexed per-model call number
	Status     int           `json:"status"`
	Timestamp  int64         `json:"timestamp"`
}

// faults injects failures ahead of the fixture sequence.
type faults struct {
	failFirst  int
	failStatus int
	latency    time.Duration
}

type server struct {
	fixtures map[string][]fixture // model name → ordered fixtures
	faults   faults
	logger   *slog.Logger
	calls    atomic.Int64 // total calls served
	failures atomic.Int64 // calls answered with an error status

	// Per-model call counters for sequential fixture selection.
	modelCalls   map[string]*atomic.Int64
	modelCallsMu sync.Mutex // protects lazy init of modelCalls entries

	modelRequests   map[string][]capturedRequest
	modelRequestsMu sync.Mutex
}

func newServer(fixtures map[string][]fixture, f faults, logger *slog.Logger) *server {
	if f.failStatus == 0 {
		f.failStatus = http.StatusServiceUnavailable
	}
	return &server{
		fixtures:      fixtures,
		faults:        f,
		logger:        logger,
		modelCalls:    make(map[string]*atomic.Int64),
		modelRequests: make(map[string][]capturedRequest),
	}
}

func (s *server) captureRequest(c capturedRequest) {
	s.modelRequestsMu.Lock()
	defer s.modelRequestsMu.Unlock()
	s.modelRequests[c.Model] = append(s.modelRequests[c.Model], c)
}

// getModelCounter returns the call counter for a model, creating it lazily.
func (s *server) getModelCounter(model string) *atomic.Int64 {
	s.modelCallsMu.Lock()
	defer s.modelCallsMu.Unlock()
	if c, ok := s.modelCalls[model]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.modelCalls[model] = c
	return c
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	mux.HandleFunc("/reset", s.handleReset)
	return mux
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 11434, "port to listen on")
	failFirst := flag.Int("fail-first", 0, "fail the first N calls of every model")
	failStatus := flag.Int("fail-status", http.StatusServiceUnavailable, "HTTP status used by -fail-first")
	latency := flag.Duration("latency", 0, "delay added before every response")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Allow env var override
	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	for model, seq := range fixtures {
		logger.Info("Loaded fixtures", "model", model, "count", len(seq))
	}

	s := newServer(fixtures, faults{failFirst: *failFirst, failStatus: *failStatus, latency: *latency}, logger)

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr, "fail_first", *failFirst, "fail_status", *failStatus)
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	captured := capturedRequest{
		Model:      req.Model,
		Messages:   req.Messages,
		Structured: req.ResponseFormat != nil && req.ResponseFormat.Type == "json_schema",
		Timestamp:  time.Now().UnixMilli(),
	}
	if captured.Structured && req.ResponseFormat.JSONSchema != nil {
		captured.SchemaName = req.ResponseFormat.JSONSchema.Name
	}

	if s.faults.latency > 0 {
		select {
		case <-time.After(s.faults.latency):
		case <-r.Context().Done():
			return
		}
	}

	seq, ok := s.fixtures[req.Model]
	if !ok {
		seq, ok = s.fixtures[strings.TrimPrefix(req.Model, "mock-")]
	}
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		s.fail(w, captured, http.StatusNotFound, fmt.Sprintf("no fixture for model %q", req.Model))
		return
	}

	callIndex := int(s.getModelCounter(req.Model).Add(1)) // 1-indexed
	captured.CallIndex = callIndex

	// Search-preview models reject response_format like the real API does.
	if captured.Structured && strings.Contains(req.Model, "search-preview") {
		s.fail(w, captured, http.StatusBadRequest, "response_format is not supported with this model")
		return
	}

	if callIndex <= s.faults.failFirst {
		s.logger.Info("Injecting failure", "call", callNum, "model", req.Model, "call_index", callIndex, "status", s.faults.failStatus)
		s.fail(w, captured, s.faults.failStatus, "injected failure")
		return
	}

	// Injected failures do not consume fixtures.
	idx := callIndex - s.faults.failFirst - 1
	if idx >= len(seq) {
		idx = len(seq) - 1 // repeat last fixture
	}
	fx := seq[idx]
	if fx.fault() {
		s.logger.Info("Serving fault fixture", "call", callNum, "model", req.Model, "status", fx.Status)
		s.fail(w, captured, fx.Status, fx.Body)
		return
	}

	captured.Status = http.StatusOK
	s.captureRequest(captured)

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: fx.Content},
			FinishReason: "stop",
		}},
		Usage: chatUsage{
			PromptTokens:     len(fx.Content) / 4, // rough estimate
			CompletionTokens: len(fx.Content) / 4,
			TotalTokens:      len(fx.Content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	s.logger.Info("Responded", "call", callNum, "model", req.Model, "call_index", callIndex, "bytes", len(fx.Content))
}

// fail records the request and answers with an OpenAI-style error body.
func (s *server) fail(w http.ResponseWriter, c capturedRequest, status int, message string) {
	c.Status = status
	s.captureRequest(c)
	s.failures.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message, "type": "mock_error", "code": status},
	})
}

// handleModels returns the list of available mock models.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	sort.Strings(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, counter := range s.modelCalls {
		callsByModel[model] = counter.Load()
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"failed_calls":   s.failures.Load(),
		"calls_by_model": callsByModel,
	})
}

// handleRequests returns captured requests for test assertions.
// Query params:
//   - model: filter by model name (optional, returns all models if omitted)
//   - call: filter by call index, 1-indexed (optional)
//
// Returns {"requests_by_model": {"verdict": [...], ...}}
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callFilter := r.URL.Query().Get("call")

	s.modelRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.modelRequests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		if callFilter != "" {
			callIdx, err := strconv.Atoi(callFilter)
			if err == nil {
				for _, req := range reqs {
					if req.CallIndex == callIdx {
						result[model] = append(result[model], req)
					}
				}
				continue
			}
		}
		result[model] = reqs
	}
	s.modelRequestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_model": result,
	})
}

// handleReset clears call counters and captured requests so fixture
// sequences start over.
func (s *server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.modelCallsMu.Lock()
	s.modelCalls = make(map[string]*atomic.Int64)
	s.modelCallsMu.Unlock()

	s.modelRequestsMu.Lock()
	s.modelRequests = make(map[string][]capturedRequest)
	s.modelRequestsMu.Unlock()

	s.calls.Store(0)
	s.failures.Store(0)
	s.logger.Info("Reset call counters")
	w.WriteHeader(http.StatusNoContent)
}

// fixtureFileRe matches "model.ext" and "model.N.ext".
var fixtureFileRe = regexp.MustCompile(`^(.+?)(?:\.(\d+))?\.(json|txt|fault)$`)

// loadFixtures reads fixture files from dir and returns a map of model→fixture sequence.
//
// For each model, fixtures are ordered:
//  1. Numbered files (model.1.json, model.2.fault, ...) in numeric order
//  2. Base file (model.json or model.txt) appended as the final fallback
func loadFixtures(dir string) (map[string][]fixture, error) {
	baseFiles := make(map[string]fixture)
	numberedFiles := make(map[string]map[int]fixture)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matches := fixtureFileRe.FindStringSubmatch(d.Name())
		if matches == nil {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		fx, err := parseFixture(matches[3], data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		model := matches[1]
		if matches[2] == "" {
			baseFiles[model] = fx
			return nil
		}
		index, _ := strconv.Atoi(matches[2])
		if numberedFiles[model] == nil {
			numberedFiles[model] = make(map[int]fixture)
		}
		numberedFiles[model][index] = fx
		return nil
	})
	if err != nil {
		return nil, err
	}

	fixtures := make(map[string][]fixture)
	for model, numbered := range numberedFiles {
		indices := make([]int, 0, len(numbered))
		for idx := range numbered {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], numbered[idx])
		}
	}
	for model, base := range baseFiles {
		fixtures[model] = append(fixtures[model], base)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}

func parseFixture(ext string, data []byte) (fixture, error) {
	switch ext {
	case "json":
		if !json.Valid(data) {
			return fixture{}, fmt.Errorf("invalid JSON")
		}
		return fixture{Content: string(data)}, nil
	case "fault":
		var fx fixture
		if err := json.Unmarshal(data, &fx); err != nil {
			return fixture{}, fmt.Errorf("parse fault: %w", err)
		}
		if fx.Status < 400 {
			return fixture{}, fmt.Errorf("fault status %d is not an error status", fx.Status)
		}
		return fx, nil
	default:
		return fixture{Content: string(data)}, nil
	}
}
