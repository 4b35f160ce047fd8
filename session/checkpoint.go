package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/semloop/storage"
)

// Checkpoint is the on-disk snapshot of a session.
type Checkpoint struct {
	Name             string         `json:"name"`
	Task             string         `json:"task"`
	Context          map[string]any `json:"context"`
	IterationContext map[string]any `json:"iteration_context"`
	TurnCount        int            `json:"turn_count"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Info describes a stored checkpoint.
type Info struct {
	Name      string    `json:"name"`
	Task      string    `json:"task"`
	TurnCount int       `json:"turn_count"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
}

// Manager stores checkpoints as <dir>/<name>.json.
type Manager struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager rooted at dir. The directory is created on first save.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, logger: logger, now: time.Now}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// SaveCheckpoint snapshots s under name, replacing any checkpoint of the same name.
// It returns the file written.
func (m *Manager) SaveCheckpoint(s *Session, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(m.dir, name+".json")
	if err := storage.WriteJSONFile(path, s.snapshot(name, m.now())); err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", name, err)
	}
	m.logger.Debug("Saved checkpoint", "name", name, "path", path)
	return path, nil
}

// resolve maps a checkpoint name or a file path to a file.
func (m *Manager) resolve(nameOrPath string) string {
	if strings.ContainsAny(nameOrPath, `/\`) || strings.HasSuffix(nameOrPath, ".json") {
		if _, err := os.Stat(nameOrPath); err == nil {
			return nameOrPath
		}
	}
	return filepath.Join(m.dir, strings.TrimSuffix(nameOrPath, ".json")+".json")
}

// Read loads a checkpoint by name or path.
func (m *Manager) Read(nameOrPath string) (*Checkpoint, error) {
	path := m.resolve(nameOrPath)
	var cp Checkpoint
	if err := storage.ReadJSONFile(path, &cp); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, nameOrPath)
		}
		return nil, err
	}
	return &cp, nil
}

// LoadCheckpoint restores a checkpoint's task, context and iteration context into s.
// It reports false, leaving s untouched, when the checkpoint is missing or unreadable.
func (m *Manager) LoadCheckpoint(nameOrPath string, s *Session) bool {
	cp, err := m.Read(nameOrPath)
	if err != nil {
		m.logger.Warn("Checkpoint not loaded", "checkpoint", nameOrPath, "error", err)
		return false
	}
	if cp.Task != "" {
		s.Task = cp.Task
	}
	s.Context = cp.Context
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.IterationContext = cp.IterationContext
	if s.IterationContext == nil {
		s.IterationContext = make(map[string]any)
	}
	return true
}

// LoadCheckpointSession restores a checkpoint into a fresh session.
func (m *Manager) LoadCheckpointSession(nameOrPath string) (*Session, bool) {
	s := New("")
	if !m.LoadCheckpoint(nameOrPath, s) {
		return nil, false
	}
	return s, true
}

// ListCheckpoints returns the stored checkpoints, newest first. Unreadable files are
// skipped. A missing directory yields an empty list.
func (m *Manager) ListCheckpoints() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(m.dir, e.Name())
		var cp Checkpoint
		if err := storage.ReadJSONFile(path, &cp); err != nil {
			m.logger.Warn("Skipping unreadable checkpoint", "path", path, "error", err)
			continue
		}
		name := cp.Name
		if name == "" {
			name = strings.TrimSuffix(e.Name(), ".json")
		}
		out = append(out, Info{
			Name:      name,
			Task:      cp.Task,
			TurnCount: cp.TurnCount,
			Timestamp: cp.Timestamp,
			Path:      path,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
