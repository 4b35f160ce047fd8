//go:build !unix

package storage

import "os"

// Advisory locking is only implemented on unix; elsewhere the state directory must be
// owned by a single process.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
