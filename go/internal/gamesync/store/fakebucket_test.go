package store

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

type fakeEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *fakeEntry) Bucket() string                  { return "test" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.revision }
func (e *fakeEntry) Created() time.Time              { return time.Time{} }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

// fakeBucket mimics the compare-and-set semantics of a JetStream bucket.
type fakeBucket struct {
	mu       sync.Mutex
	entries  map[string]*fakeEntry
	revision uint64

	// beforeUpdate runs ahead of an Update, letting tests race a writer in.
	beforeUpdate func()
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{entries: make(map[string]*fakeEntry)}
}

func (b *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &fakeEntry{key: e.key, value: append([]byte(nil), e.value...), revision: e.revision}, nil
}

func (b *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setLocked(key, value), nil
}

func (b *fakeBucket) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	return b.setLocked(key, value), nil
}

func (b *fakeBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	if b.beforeUpdate != nil {
		hook := b.beforeUpdate
		b.beforeUpdate = nil
		hook()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || e.revision != revision {
		return 0, jetstream.ErrKeyExists
	}
	return b.setLocked(key, value), nil
}

func (b *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *fakeBucket) setLocked(key string, value []byte) uint64 {
	b.revision++
	b.entries[key] = &fakeEntry{key: key, value: append([]byte(nil), value...), revision: b.revision}
	return b.revision
}
