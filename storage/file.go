package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore stores each key as <dir>/<key>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir. The directory is created lazily on the
// first Save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the store root.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ReadJSONFile(s.Path(key), v)
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return WriteJSONFile(s.Path(key), v)
}

// Close implements Store. File stores hold no open handles between calls.
func (s *FileStore) Close() error {
	return nil
}

// ReadJSONFile decodes the JSON document at path into v while holding the file's lock.
func ReadJSONFile(path string, v any) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	return withLock(path, func() error {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return ErrNotFound
			}
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		return nil
	})
}

// WriteJSONFile encodes v to path while holding the file's lock. The document is written to
// a temporary file in the same directory and renamed into place, so readers never observe a
// partial write.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	return withLock(path, func() error {
		tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("write %s: %w", tmpName, err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("close %s: %w", tmpName, err)
		}
		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("rename into %s: %w", path, err)
		}
		return nil
	})
}

// withLock runs fn while holding an exclusive lock on path's sidecar lock file.
// The lock is released on every exit path, including panics in fn.
func withLock(path string, fn func() error) error {
	lf, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer lf.Close()

	if err := lockFile(lf); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer unlockFile(lf) //nolint:errcheck

	return fn()
}

// sanitizeKey keeps keys from escaping the store directory.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "..", "_")
	key = strings.ReplaceAll(key, string(filepath.Separator), "_")
	return strings.ReplaceAll(key, "/", "_")
}
