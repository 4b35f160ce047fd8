package learning

import "errors"

// ErrFormat is returned when a pattern file cannot be read, is not valid JSON, or carries
// an unrecognized version or format tag.
var ErrFormat = errors.New("unrecognized pattern file")
