package breadcrumb

import "errors"

var (
	// ErrNotFound is returned when no breadcrumb exists at a location.
	ErrNotFound = errors.New("breadcrumb not found")

	// ErrInvalidLocation is returned for malformed file:line references.
	ErrInvalidLocation = errors.New("invalid breadcrumb location")
)
