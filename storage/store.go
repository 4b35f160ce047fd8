// Package storage provides the persistence backends used by the semloop trackers.
//
// FileStore keeps one JSON document per key on disk and serializes access with an advisory
// file lock. BadgerStore keeps the same documents in an embedded transactional key-value
// store for hosts that run more than one writer. KVStore shares them through a NATS
// JetStream bucket.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendNATS   = "nats"
)

// Store persists JSON-encodable documents by key.
type Store interface {
	// Load decodes the document stored under key into v.
	// Returns ErrNotFound when the key has never been saved.
	Load(ctx context.Context, key string, v any) error

	// Save encodes v and stores it under key, replacing any previous document.
	Save(ctx context.Context, key string, v any) error

	// Close releases backend resources.
	Close() error
}

// Options select and configure a backend.
type Options struct {
	Backend string
	// Dir roots the file and badger backends.
	Dir string
	// NATSURL and Bucket configure the nats backend.
	NATSURL string
	Bucket  string
	Logger  *slog.Logger
}

// Open creates a store for the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir), nil
	case BackendBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = filepath.Join(opts.Dir, "badger")
		cfg.Logger = opts.Logger
		return OpenBadger(cfg)
	case BackendNATS:
		return OpenKV(ctx, opts.NATSURL, opts.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
