package errortracker

import "errors"

// ErrUnknownFingerprint is returned when resolving a fingerprint that was never tracked.
var ErrUnknownFingerprint = errors.New("unknown error fingerprint")
