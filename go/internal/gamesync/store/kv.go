package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mcdev12/cardsync/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// Bucket is the subset of jetstream.KeyValue the KV stores use.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

type KVConfig struct {
	URL      string        `yaml:"url"`
	Bucket   string        `yaml:"bucket"`
	Counters string        `yaml:"counters_bucket"`
	TTL      time.Duration `yaml:"ttl"`
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		URL:      nats.DefaultURL,
		Bucket:   "game_states",
		Counters: "sync_retry_counters",
	}
}

// OpenBucket connects to NATS and creates or updates the named bucket.
func OpenBucket(ctx context.Context, nc *nats.Conn, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	log.Info().Str("bucket", bucket).Msg("opened key-value bucket")
	return kv, nil
}

// KV persists states in a JetStream key-value bucket using compare-and-set
// on the entry revision.
type KV struct {
	bucket Bucket
}

func NewKV(bucket Bucket) *KV {
	return &KV{bucket: bucket}
}

var keyReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "/", "_")

// kvKey builds a bucket key from free-form ids.
func kvKey(parts ...string) string {
	for i, p := range parts {
		parts[i] = keyReplacer.Replace(p)
	}
	return strings.Join(parts, ".")
}

func (s *KV) Get(ctx context.Context, roomID, gameplayID string) (*models.GameState, error) {
	key := Key{RoomID: roomID, GameplayID: gameplayID}
	state, _, err := s.load(ctx, key)
	return state, err
}

func (s *KV) load(ctx context.Context, key Key) (*models.GameState, uint64, error) {
	entry, err := s.bucket.Get(ctx, kvKey(key.RoomID, key.GameplayID))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	var state models.GameState
	if err := json.Unmarshal(entry.Value(), &state); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return &state, entry.Revision(), nil
}

func (s *KV) Upsert(ctx context.Context, roomID, gameplayID string, state *models.GameState) error {
	if err := validate(state); err != nil {
		return err
	}
	key := Key{RoomID: roomID, GameplayID: gameplayID}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	current, revision, err := s.load(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if _, err := s.bucket.Create(ctx, kvKey(roomID, gameplayID), data); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return conflictError(key, -1, state.Version)
			}
			return fmt.Errorf("create %s: %w", key, err)
		}
		return nil
	case err != nil:
		return err
	}

	if current.Version >= state.Version {
		return conflictError(key, current.Version, state.Version)
	}
	if _, err := s.bucket.Update(ctx, kvKey(roomID, gameplayID), data, revision); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return conflictError(key, current.Version, state.Version)
		}
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}
