package reasoning

import "errors"

var (
	// ErrNoCurrent is returned when an operation needs an in-progress entry and none is open.
	ErrNoCurrent = errors.New("no reasoning entry in progress")

	// ErrIDMismatch is returned when completing an entry that is not the current one.
	ErrIDMismatch = errors.New("reasoning entry id does not match current entry")
)
