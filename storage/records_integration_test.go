//go:build integration

package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/c360studio/seminvoke/llm"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a NATS server with JetStream, e.g. `docker run -p 4222:4222 nats -js`.
func TestStore_JetStream(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("NATS not reachable at %s: %v", url, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	name := fmt.Sprintf("SEMINVOKE_IT_%d", time.Now().UnixNano())
	s, err := NewStore(ctx, js, WithBucket(name), WithTTL(time.Minute))
	require.NoError(t, err)
	defer func() { _ = js.DeleteKeyValue(context.Background(), name) }()

	rec := &llm.CallRecord{
		RequestID: "req-it",
		Model:     "gpt-4o",
		Outcome:   llm.OutcomeSucceeded,
		Attempts:  2,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "req-it")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)

	// Reopening finds the existing bucket.
	again, err := NewStore(ctx, js, WithBucket(name))
	require.NoError(t, err)
	records, err := again.List(ctx, Filter{Outcome: llm.OutcomeSucceeded})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "req-it", records[0].RequestID)
}
