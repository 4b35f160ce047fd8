package session

import "errors"

var (
	// ErrInvalidName is returned for empty checkpoint names or names containing a path separator.
	ErrInvalidName = errors.New("invalid checkpoint name")

	// ErrCheckpointNotFound is returned when a named checkpoint does not exist.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
