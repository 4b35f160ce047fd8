package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "semloop.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/semloop"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
	// EnvConfig names an extra config file layered above the project config
	EnvConfig = "SEMLOOP_CONFIG"
)

// Source is one configuration layer considered by the Loader.
type Source struct {
	Layer  string `json:"layer" yaml:"layer"`
	Path   string `json:"path" yaml:"path"`
	Loaded bool   `json:"loaded" yaml:"loaded"`
}

// Loader merges configuration layers over DefaultConfig.
type Loader struct {
	logger *slog.Logger
	// workDir overrides the directory project config lookup starts from
	workDir string
	sources []Source
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// WithWorkDir sets the directory the project config search starts from.
func (l *Loader) WithWorkDir(dir string) *Loader {
	l.workDir = dir
	return l
}

// Sources reports the layers considered by the last Load, lowest precedence first.
func (l *Loader) Sources() []Source {
	return append([]Source(nil), l.sources...)
}

// Load merges, in increasing precedence: defaults, the user config
// (~/.config/semloop/config.yaml), the nearest semloop.yaml at or above the work
// directory, $SEMLOOP_CONFIG, and path. Optional layers that fail to parse are logged
// and skipped; $SEMLOOP_CONFIG and path must load.
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	l.sources = nil

	layers := []struct {
		name     string
		path     string
		required bool
	}{
		{"user", l.userConfigPath(), false},
		{"project", l.findProjectConfig(), false},
		{"env", os.Getenv(EnvConfig), true},
		{"explicit", path, true},
	}
	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		src := Source{Layer: layer.name, Path: layer.path}
		err := applyLayer(cfg, layer.path)
		switch {
		case err == nil:
			src.Loaded = true
			l.logger.Debug("Loaded config layer", "layer", layer.name, "path", layer.path)
		case layer.required:
			return nil, fmt.Errorf("%s config: %w", layer.name, err)
		case !errors.Is(err, os.ErrNotExist):
			l.logger.Warn("Skipping config layer", "layer", layer.name, "path", layer.path, "error", err)
		}
		l.sources = append(l.sources, src)
	}

	if cfg.Breadcrumbs.Root == "" {
		cfg.Breadcrumbs.Root = l.defaultRoot()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLayer decodes a config file over cfg. Only the keys present in the file change,
// so an explicit zero such as min_retries: 0 overrides a lower layer. A file that fails
// to parse leaves cfg untouched.
func applyLayer(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var check Config
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// defaultRoot is the git toplevel of the work directory, else the work directory.
func (l *Loader) defaultRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = l.workDir
	if out, err := cmd.Output(); err == nil {
		root := strings.TrimSpace(string(out))
		l.logger.Debug("Scan root from git", "path", root)
		return root
	}
	dir, err := l.cwd()
	if err != nil {
		return "."
	}
	return dir
}

// EnsureUserConfig writes a default user config unless one exists, and returns its path.
func (l *Loader) EnsureUserConfig() (string, error) {
	path := l.userConfigPath()
	if path == "" {
		return "", errors.New("cannot determine home directory")
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", err
	}
	l.logger.Info("Created default user config", "path", path)
	return path, nil
}

func (l *Loader) cwd() (string, error) {
	if l.workDir != "" {
		return l.workDir, nil
	}
	return os.Getwd()
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks up from the work directory to the first semloop.yaml.
func (l *Loader) findProjectConfig() string {
	dir, err := l.cwd()
	if err != nil {
		return ""
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
