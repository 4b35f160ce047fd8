package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/config"
	"github.com/c360studio/semloop/errortracker"
	"github.com/c360studio/semloop/learning"
	"github.com/c360studio/semloop/orchestrator"
	"github.com/c360studio/semloop/reasoning"
	"github.com/c360studio/semloop/session"
	"github.com/c360studio/semloop/storage"
)

// App wires the configured components for one command invocation.
type App struct {
	cfg     *config.Config
	sources []config.Source
	flags   *globalFlags
	logger  *slog.Logger
	out     io.Writer

	store     storage.Store
	errors    *errortracker.Tracker
	reasoning *reasoning.Tracker
	learner   *learning.Learner
	sessions  *session.Manager
}

// NewApp loads configuration and opens the trackers' databases.
func NewApp(ctx context.Context, cmd *cobra.Command, flags *globalFlags) (*App, error) {
	logger := newLogger(flags.logLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	if flags.root != "" {
		loader.WithWorkDir(flags.root)
	}
	cfg, err := loader.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.root != "" {
		cfg.Breadcrumbs.Root = flags.root
	}
	if flags.stateDir != "" {
		cfg.StateDir = flags.stateDir
	}
	if !filepath.IsAbs(cfg.StateDir) {
		cfg.StateDir = filepath.Join(cfg.Breadcrumbs.Root, cfg.StateDir)
	}

	store, err := storage.Open(ctx, storage.Options{
		Backend: cfg.Storage.Backend,
		Dir:     cfg.StateDir,
		NATSURL: cfg.Storage.NATSURL,
		Bucket:  cfg.Storage.Bucket,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	a := &App{
		cfg:     cfg,
		sources: loader.Sources(),
		flags:   flags,
		logger:  logger,
		out:     cmd.OutOrStdout(),
		store:   store,
		errors: errortracker.New(errortracker.Config{
			SimilarityThreshold: cfg.Errors.SimilarityThreshold,
			SuggestionLimit:     cfg.Errors.SuggestionLimit,
			Store:               store,
			Logger:              logger,
		}),
		reasoning: reasoning.NewTracker(reasoning.WithStore(store), reasoning.WithLogger(logger)),
		learner:   learning.New(cfg.Learning, logger),
		sessions:  session.NewManager(cfg.StatePath(cfg.Persistence.CheckpointDir), logger),
	}

	if err := a.errors.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := a.reasoning.Load(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := a.loadPatterns(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

func (a *App) statePath() string {
	return a.cfg.StatePath(a.cfg.Persistence.StateFile)
}

// readState returns the persisted iteration state, or a zero state when none exists.
func (a *App) readState() (orchestrator.IterationState, bool, error) {
	var st orchestrator.IterationState
	if err := storage.ReadJSONFile(a.statePath(), &st); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("read %s: %w", a.statePath(), err)
	}
	return st, true, nil
}

func (a *App) loadPatterns() error {
	st, ok, err := a.readState()
	if err != nil || !ok {
		return err
	}
	a.learner.Replace(st.LearnedPatterns)
	return nil
}

// savePatterns writes the learner's phase map back into the state file, keeping the
// iteration counters and history.
func (a *App) savePatterns() error {
	st, _, err := a.readState()
	if err != nil {
		return err
	}
	st.LearnedPatterns = a.learner.Snapshot()
	st.ProjectName = a.cfg.ProjectName
	if err := storage.WriteJSONFile(a.statePath(), st); err != nil {
		return fmt.Errorf("save patterns: %w", err)
	}
	return nil
}

func (a *App) scanConfig() breadcrumb.ScanConfig {
	return breadcrumb.ScanConfig{
		Root:           a.cfg.Breadcrumbs.Root,
		Include:        a.cfg.Breadcrumbs.Include,
		Exclude:        a.cfg.Breadcrumbs.Exclude,
		Workers:        a.cfg.Breadcrumbs.Workers,
		ResolveSymbols: a.cfg.Breadcrumbs.SymbolsEnabled(),
		Logger:         a.logger,
	}
}

// scan builds the breadcrumb graph of the repository.
func (a *App) scan(ctx context.Context) (*breadcrumb.Graph, error) {
	g, err := breadcrumb.NewScanner(a.scanConfig()).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", a.cfg.Breadcrumbs.Root, err)
	}
	return g, nil
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp opens an App for the duration of fn.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := NewApp(ctx, cmd, flags)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
