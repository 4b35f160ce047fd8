package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream KV bucket used when none is configured.
const DefaultBucket = "SEMLOOP_STATE"

// kvBucket is the subset of jetstream.KeyValue the store needs.
type kvBucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

type jetstreamBucket struct {
	kv jetstream.KeyValue
}

func (b jetstreamBucket) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (b jetstreamBucket) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

// KVStore keeps documents in a NATS JetStream key-value bucket, so several hosts can
// share one error, reasoning and pattern history.
type KVStore struct {
	bucket kvBucket
	conn   *nats.Conn

	mu     sync.RWMutex
	closed bool
}

// OpenKV connects to url and opens (creating if needed) the named bucket.
func OpenKV(ctx context.Context, url, bucket string) (*KVStore, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	conn, err := nats.Connect(url, nats.Name("semloop-store"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}
	return &KVStore{bucket: jetstreamBucket{kv: kv}, conn: conn}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "semloop tracker state",
		History:     5,
	})
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, key string, v any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := s.bucket.Get(ctx, sanitizeKey(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.bucket.Put(ctx, sanitizeKey(key), data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *KVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
