package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mcdev12/cardsync/go/internal/syncerr"
	"github.com/nats-io/nats.go/jetstream"
)

// KVCounterStore keeps the error handler's retry counters in a JetStream
// bucket so every agent of a deployment shares them.
type KVCounterStore struct {
	bucket Bucket
	prefix string
}

func NewKVCounterStore(bucket Bucket, prefix string) *KVCounterStore {
	if prefix == "" {
		prefix = "retry"
	}
	return &KVCounterStore{bucket: bucket, prefix: prefix}
}

func (s *KVCounterStore) key(k syncerr.RetryKey) string {
	return kvKey(s.prefix, string(k.Type), k.Context)
}

func (s *KVCounterStore) Attempts(ctx context.Context, k syncerr.RetryKey) (int, error) {
	entry, err := s.bucket.Get(ctx, s.key(k))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get retry counter %s: %w", k, err)
	}
	n, err := strconv.Atoi(string(entry.Value()))
	if err != nil {
		return 0, fmt.Errorf("decode retry counter %s: %w", k, err)
	}
	return n, nil
}

func (s *KVCounterStore) SetAttempts(ctx context.Context, k syncerr.RetryKey, attempts int) error {
	if _, err := s.bucket.Put(ctx, s.key(k), []byte(strconv.Itoa(attempts))); err != nil {
		return fmt.Errorf("put retry counter %s: %w", k, err)
	}
	return nil
}

func (s *KVCounterStore) ClearContext(ctx context.Context, errContext string) error {
	for _, t := range syncerr.ErrorTypes() {
		k := syncerr.RetryKey{Type: t, Context: errContext}
		if err := s.bucket.Delete(ctx, s.key(k)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("delete retry counter %s: %w", k, err)
		}
	}
	return nil
}
