//go:build integration

package llm_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/c360studio/seminvoke/llm"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a reachable NATS server, e.g. `docker run -p 4222:4222 nats`.
func TestNATSPublisher_DeliversRecords(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skipf("NATS not reachable at %s: %v", url, err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("it.llm.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	store, err := llm.NewCallStore(llm.NewNATSPublisher(nc), llm.WithSubjectPrefix("it.llm"))
	require.NoError(t, err)

	record := &llm.CallRecord{
		RequestID: "req-integration",
		Model:     "gpt-4o-mini",
		Outcome:   llm.OutcomeExhausted,
		Attempts:  3,
		Error:     "exhausted retries after 3 attempt(s): boom",
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Store(context.Background(), record))
	require.NoError(t, nc.Flush())

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "it.llm.exhausted", msg.Subject)

	var got llm.CallRecord
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "req-integration", got.RequestID)
	assert.Equal(t, 3, got.Attempts)
}
