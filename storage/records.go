// Package storage keeps invocation records in a NATS JetStream KV bucket so
// finished invocations can be looked up by request ID.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360studio/seminvoke/llm"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket used when none is configured.
const DefaultBucket = "SEMINVOKE_CALLS"

// bucket is the subset of jetstream.KeyValue the store uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
}

// Store provides invocation record storage backed by NATS KV.
type Store struct {
	records bucket
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*options)

type options struct {
	bucket string
	ttl    time.Duration
	logger *slog.Logger
}

// WithBucket overrides DefaultBucket.
func WithBucket(name string) Option {
	return func(o *options) {
		if name != "" {
			o.bucket = name
		}
	}
}

// WithTTL expires records after ttl when the bucket is created.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewStore opens the record bucket, creating it if it doesn't exist.
func NewStore(ctx context.Context, js jetstream.JetStream, opts ...Option) (*Store, error) {
	o := options{bucket: DefaultBucket, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	kv, err := getOrCreateBucket(ctx, js, o.bucket, o.ttl)
	if err != nil {
		return nil, fmt.Errorf("open records bucket %s: %w", o.bucket, err)
	}
	return &Store{records: kv, logger: o.logger}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Seminvoke invocation records",
		History:     1,
		TTL:         ttl,
	})
}

// Put stores a record under its request ID, replacing any earlier record.
func (s *Store) Put(ctx context.Context, rec *llm.CallRecord) error {
	if rec.RequestID == "" {
		return ErrMissingRequestID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.records.Put(ctx, rec.RequestID, data); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Publish implements llm.Publisher so the store can sit behind a CallStore.
// The subject is ignored; records are keyed by request ID.
func (s *Store) Publish(ctx context.Context, _ string, data []byte) error {
	var key struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if key.RequestID == "" {
		return ErrMissingRequestID
	}
	if _, err := s.records.Put(ctx, key.RequestID, data); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Get retrieves a record by request ID.
func (s *Store) Get(ctx context.Context, requestID string) (*llm.CallRecord, error) {
	entry, err := s.records.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec llm.CallRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Filter selects records in List. Zero fields match everything.
type Filter struct {
	Outcome string
	TraceID string
	Model   string
	Since   time.Time
}

func (f Filter) match(rec *llm.CallRecord) bool {
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.TraceID != "" && rec.TraceID != f.TraceID {
		return false
	}
	if f.Model != "" && !strings.EqualFold(rec.Model, f.Model) {
		return false
	}
	if !f.Since.IsZero() && rec.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// List returns matching records ordered by start time.
func (s *Store) List(ctx context.Context, f Filter) ([]*llm.CallRecord, error) {
	keys, err := s.records.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list record keys: %w", err)
	}

	records := make([]*llm.CallRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			// Expired or malformed entries are skipped
			s.logger.Debug("Skipping record", "request_id", key, "error", err)
			continue
		}
		if f.match(rec) {
			records = append(records, rec)
		}
	}

	llm.SortByStartTime(records)
	return records, nil
}
