package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("entity not found")

	// ErrCorrupt is returned when stored data cannot be decoded.
	ErrCorrupt = errors.New("stored data is corrupt")

	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("store is closed")
)
