package main

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/seminvoke/config"
	"github.com/c360studio/seminvoke/llm"
	"github.com/c360studio/seminvoke/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	records    []*llm.CallRecord
	lastFilter storage.Filter
	closed     bool
}

func (f *fakeRecords) Get(_ context.Context, id string) (*llm.CallRecord, error) {
	for _, r := range f.records {
		if r.RequestID == id {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeRecords) List(_ context.Context, filter storage.Filter) ([]*llm.CallRecord, error) {
	f.lastFilter = filter
	var out []*llm.CallRecord
	for _, r := range f.records {
		if filter.Outcome == "" || r.Outcome == filter.Outcome {
			out = append(out, r)
		}
	}
	return out, nil
}

func recordDeps(f *fakeRecords) deps {
	d := defaultDeps()
	d.openRecordReader = func(context.Context, *config.Config, *slog.Logger) (recordReader, func(), error) {
		return f, func() { f.closed = true }, nil
	}
	return d
}

func sampleRecords() *fakeRecords {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &fakeRecords{records: []*llm.CallRecord{
		{RequestID: "req-a", Model: "gpt-4o", Mode: llm.ModeStructured, Outcome: llm.OutcomeSucceeded, Attempts: 1, StartedAt: started, DurationMs: 820},
		{RequestID: "req-b", Model: "gpt-4o-search-preview", Mode: llm.ModeText, Outcome: llm.OutcomeExhausted, Attempts: 3, StartedAt: started.Add(time.Minute), DurationMs: 3400},
	}}
}

func TestCallsGet(t *testing.T) {
	isolate(t)
	f := sampleRecords()

	out, err := execute(t, recordDeps(f), "", "calls", "get", "req-b")
	require.NoError(t, err)

	var rec llm.CallRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, 3, rec.Attempts)
	assert.True(t, f.closed)

	_, err = execute(t, recordDeps(f), "", "calls", "get", "req-missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no invocation record for "req-missing"`)
}

func TestCallsList_Table(t *testing.T) {
	isolate(t)
	out, err := execute(t, recordDeps(sampleRecords()), "", "calls", "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "REQUEST ID"))
	assert.Contains(t, lines[1], "req-a")
	assert.Contains(t, lines[2], "exhausted")
	assert.Contains(t, lines[2], "3.4s")
}

func TestCallsList_JSONWithFilters(t *testing.T) {
	isolate(t)
	f := sampleRecords()

	out, err := execute(t, recordDeps(f), "",
		"calls", "list", "--json", "--outcome", "exhausted", "--trace", "t-1", "--since", "1h")
	require.NoError(t, err)

	var ids []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var rec llm.CallRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		ids = append(ids, rec.RequestID)
	}
	assert.Equal(t, []string{"req-b"}, ids)
	assert.Equal(t, "t-1", f.lastFilter.TraceID)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), f.lastFilter.Since, time.Minute)
}

func TestOpenRecordReader_RequiresURL(t *testing.T) {
	_, _, err := openRecordReader(context.Background(), config.DefaultConfig(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url is not configured")
}
