package orchestrator

import "errors"

var (
	// ErrInvalidTransition is returned for a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConfig is returned by New for missing collaborators or an invalid configuration.
	ErrConfig = errors.New("invalid orchestrator configuration")

	// ErrStateFormat is returned when an explicitly requested state file cannot be used.
	ErrStateFormat = errors.New("unreadable iteration state")
)
