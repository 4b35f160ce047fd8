// Package config provides configuration loading and management for semloop.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure so callers can treat them as fatal setup errors.
var ErrInvalid = errors.New("invalid configuration")

var validate = validator.New()

// Config represents the complete semloop configuration
type Config struct {
	// ProjectName labels exported patterns and persisted iteration state.
	ProjectName string `yaml:"project_name" validate:"required"`
	// StateDir holds error/reasoning databases, state files and checkpoints.
	StateDir string `yaml:"state_dir" validate:"required"`

	Breadcrumbs BreadcrumbConfig  `yaml:"breadcrumbs"`
	Retry       RetryConfig       `yaml:"retry"`
	Learning    LearningConfig    `yaml:"learning"`
	Errors      ErrorsConfig      `yaml:"errors"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Storage     StorageConfig     `yaml:"storage"`
	Events      EventsConfig      `yaml:"events"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Compiler    CompilerConfig    `yaml:"compiler"`
}

// BreadcrumbConfig configures repository scanning
type BreadcrumbConfig struct {
	// Root is the directory scanned for annotations (default: repo root)
	Root string `yaml:"root"`
	// Include lists doublestar patterns of files to parse
	Include []string `yaml:"include"`
	// Exclude lists doublestar patterns of files to skip
	Exclude []string `yaml:"exclude"`
	// Workers bounds concurrent file parsing
	Workers int `yaml:"workers" validate:"gte=1,lte=256"`
	// ResolveSymbols enables tree-sitter symbol lookup for Go and Python files
	ResolveSymbols *bool `yaml:"resolve_symbols,omitempty"`
	// DebounceDelay batches file changes in watch mode
	DebounceDelay time.Duration `yaml:"debounce_delay"`
}

// RetryConfig holds the adaptive retry budget parameters.
// The weights and keywords are empirical and meant to be tuned.
type RetryConfig struct {
	BaseRetries int   `yaml:"base_retries" validate:"gte=1"`
	Adaptive    *bool `yaml:"adaptive,omitempty"`
	MinRetries  int   `yaml:"min_retries" validate:"gte=0"`
	MaxRetries  int   `yaml:"max_retries" validate:"gtefield=MinRetries"`
	// Weights maps an error category to its complexity score
	Weights map[string]int `yaml:"weights"`
	// DefaultWeight scores errors matching no category
	DefaultWeight int `yaml:"default_weight" validate:"gte=1"`
	// Keywords maps an error category to the substrings that classify it
	Keywords map[string][]string `yaml:"keywords"`
}

// SymbolsEnabled reports whether breadcrumbs are linked to the declarations that follow them.
func (b BreadcrumbConfig) SymbolsEnabled() bool {
	return b.ResolveSymbols == nil || *b.ResolveSymbols
}

// AdaptiveEnabled reports whether retry budgets scale with error complexity.
func (r RetryConfig) AdaptiveEnabled() bool {
	return r.Adaptive == nil || *r.Adaptive
}

// Multiplier scales a phase's retry and time estimates by complexity
type Multiplier struct {
	Retry float64 `yaml:"retry" validate:"gt=0"`
	Time  float64 `yaml:"time" validate:"gt=0"`
}

// LearningConfig configures pattern recommendations
type LearningConfig struct {
	Multipliers               map[string]Multiplier `yaml:"multipliers" validate:"dive"`
	DefaultSuccessProbability float64               `yaml:"default_success_probability" validate:"gte=0,lte=1"`
	DefaultAvgRetries         float64               `yaml:"default_avg_retries" validate:"gte=0"`
	DefaultAvgTime            float64               `yaml:"default_avg_time" validate:"gte=0"`
}

// ErrorsConfig configures error similarity
type ErrorsConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gt=0,lte=1"`
	SuggestionLimit     int     `yaml:"suggestion_limit" validate:"gte=1"`
}

// PersistenceConfig configures state files
type PersistenceConfig struct {
	// AutoSaveInterval saves iteration state every N iterations (0 disables)
	AutoSaveInterval int    `yaml:"auto_save_interval" validate:"gte=0"`
	StateFile        string `yaml:"state_file" validate:"required"`
	PatternsFile     string `yaml:"patterns_file" validate:"required"`
	CheckpointDir    string `yaml:"checkpoint_dir" validate:"required"`
}

// StorageConfig selects the tracker database backend
type StorageConfig struct {
	// Backend is "file" (locked JSON files), "badger" or "nats" (JetStream KV)
	Backend string `yaml:"backend" validate:"oneof=file badger nats"`
	// NATSURL and Bucket configure the nats backend
	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
}

// EventsConfig configures iteration event publishing
type EventsConfig struct {
	// NATSURL enables publishing when non-empty
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics when non-empty (e.g. ":9090")
	Addr string `yaml:"addr"`
}

// CompilerConfig configures the command-backed compiler collaborator
type CompilerConfig struct {
	// Command is run in the repository root; empty means compilation always succeeds
	Command []string `yaml:"command"`
	// Timeout bounds one compiler run (0 = no limit)
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	adaptive, resolve := true, true
	return &Config{
		ProjectName: "semloop",
		StateDir:    ".semloop",
		Breadcrumbs: BreadcrumbConfig{
			Root:           "",
			Include:        []string{"**/*"},
			Exclude:        []string{".git/**", "**/vendor/**", "**/node_modules/**", ".semloop/**"},
			Workers:        8,
			ResolveSymbols: &resolve,
			DebounceDelay:  200 * time.Millisecond,
		},
		Retry: RetryConfig{
			BaseRetries:   3,
			Adaptive:      &adaptive,
			MinRetries:    1,
			MaxRetries:    8,
			DefaultWeight: 2,
			Weights: map[string]int{
				"syntax":    1,
				"reference": 2,
				"runtime":   3,
			},
			Keywords: map[string][]string{
				"syntax": {
					"syntax error", "parse error", "unexpected", "expected",
					"unterminated", "invalid token", "missing semicolon", "indentation",
				},
				"reference": {
					"undefined", "undeclared", "not declared", "unresolved", "cannot find",
					"no member", "has no field", "type mismatch", "cannot convert",
					"incompatible type", "cannot use", "not found",
				},
				"runtime": {
					"runtime error", "panic", "segmentation fault", "segfault", "assertion",
					"nil pointer", "index out of range", "stack overflow", "deadlock", "core dumped",
				},
			},
		},
		Learning: LearningConfig{
			Multipliers: map[string]Multiplier{
				"LOW":      {Retry: 0.7, Time: 0.8},
				"MEDIUM":   {Retry: 1.0, Time: 1.0},
				"HIGH":     {Retry: 1.3, Time: 1.4},
				"CRITICAL": {Retry: 1.5, Time: 2.0},
			},
			DefaultSuccessProbability: 0.5,
			DefaultAvgRetries:         3,
			DefaultAvgTime:            60,
		},
		Errors: ErrorsConfig{
			SimilarityThreshold: 0.30,
			SuggestionLimit:     5,
		},
		Persistence: PersistenceConfig{
			AutoSaveInterval: 5,
			StateFile:        "iteration_state.json",
			PatternsFile:     "learned_patterns.json",
			CheckpointDir:    "checkpoints",
		},
		Storage: StorageConfig{Backend: "file"},
		Events:  EventsConfig{Subject: "semloop.iteration"},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for cat, w := range c.Retry.Weights {
		if w < 1 {
			return fmt.Errorf("%w: retry.weights.%s must be >= 1", ErrInvalid, cat)
		}
	}
	if _, ok := c.Learning.Multipliers["MEDIUM"]; !ok {
		return fmt.Errorf("%w: learning.multipliers must define MEDIUM", ErrInvalid)
	}
	return nil
}

// StatePath resolves a file name relative to StateDir.
func (c *Config) StatePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.StateDir, name)
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values).
// Zero values in other cannot clear a setting; config files loaded by Loader can.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.ProjectName != "" {
		c.ProjectName = other.ProjectName
	}
	if other.StateDir != "" {
		c.StateDir = other.StateDir
	}

	// Breadcrumbs
	if other.Breadcrumbs.Root != "" {
		c.Breadcrumbs.Root = other.Breadcrumbs.Root
	}
	if len(other.Breadcrumbs.Include) > 0 {
		c.Breadcrumbs.Include = other.Breadcrumbs.Include
	}
	if len(other.Breadcrumbs.Exclude) > 0 {
		c.Breadcrumbs.Exclude = other.Breadcrumbs.Exclude
	}
	if other.Breadcrumbs.Workers != 0 {
		c.Breadcrumbs.Workers = other.Breadcrumbs.Workers
	}
	if other.Breadcrumbs.ResolveSymbols != nil {
		c.Breadcrumbs.ResolveSymbols = other.Breadcrumbs.ResolveSymbols
	}
	if other.Breadcrumbs.DebounceDelay != 0 {
		c.Breadcrumbs.DebounceDelay = other.Breadcrumbs.DebounceDelay
	}

	// Retry
	if other.Retry.BaseRetries != 0 {
		c.Retry.BaseRetries = other.Retry.BaseRetries
	}
	if other.Retry.Adaptive != nil {
		c.Retry.Adaptive = other.Retry.Adaptive
	}
	if other.Retry.MinRetries != 0 {
		c.Retry.MinRetries = other.Retry.MinRetries
	}
	if other.Retry.MaxRetries != 0 {
		c.Retry.MaxRetries = other.Retry.MaxRetries
	}
	if other.Retry.DefaultWeight != 0 {
		c.Retry.DefaultWeight = other.Retry.DefaultWeight
	}
	if c.Retry.Weights == nil {
		c.Retry.Weights = make(map[string]int)
	}
	if c.Retry.Keywords == nil {
		c.Retry.Keywords = make(map[string][]string)
	}
	for k, v := range other.Retry.Weights {
		c.Retry.Weights[k] = v
	}
	for k, v := range other.Retry.Keywords {
		c.Retry.Keywords[k] = v
	}

	// Learning
	if c.Learning.Multipliers == nil {
		c.Learning.Multipliers = make(map[string]Multiplier)
	}
	for k, v := range other.Learning.Multipliers {
		c.Learning.Multipliers[k] = v
	}
	if other.Learning.DefaultSuccessProbability != 0 {
		c.Learning.DefaultSuccessProbability = other.Learning.DefaultSuccessProbability
	}
	if other.Learning.DefaultAvgRetries != 0 {
		c.Learning.DefaultAvgRetries = other.Learning.DefaultAvgRetries
	}
	if other.Learning.DefaultAvgTime != 0 {
		c.Learning.DefaultAvgTime = other.Learning.DefaultAvgTime
	}

	// Errors
	if other.Errors.SimilarityThreshold != 0 {
		c.Errors.SimilarityThreshold = other.Errors.SimilarityThreshold
	}
	if other.Errors.SuggestionLimit != 0 {
		c.Errors.SuggestionLimit = other.Errors.SuggestionLimit
	}

	// Persistence
	if other.Persistence.AutoSaveInterval != 0 {
		c.Persistence.AutoSaveInterval = other.Persistence.AutoSaveInterval
	}
	if other.Persistence.StateFile != "" {
		c.Persistence.StateFile = other.Persistence.StateFile
	}
	if other.Persistence.PatternsFile != "" {
		c.Persistence.PatternsFile = other.Persistence.PatternsFile
	}
	if other.Persistence.CheckpointDir != "" {
		c.Persistence.CheckpointDir = other.Persistence.CheckpointDir
	}

	if other.Storage.Backend != "" {
		c.Storage.Backend = other.Storage.Backend
	}
	if other.Storage.NATSURL != "" {
		c.Storage.NATSURL = other.Storage.NATSURL
	}
	if other.Storage.Bucket != "" {
		c.Storage.Bucket = other.Storage.Bucket
	}
	if other.Events.NATSURL != "" {
		c.Events.NATSURL = other.Events.NATSURL
	}
	if other.Events.Subject != "" {
		c.Events.Subject = other.Events.Subject
	}
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}
	if len(other.Compiler.Command) > 0 {
		c.Compiler.Command = other.Compiler.Command
	}
	if other.Compiler.Timeout != 0 {
		c.Compiler.Timeout = other.Compiler.Timeout
	}
}
