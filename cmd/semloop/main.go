// Package main provides the semloop binary entry point.
// Semloop drives breadcrumb-annotated tasks through an explore, reason, generate, review,
// compile and learn loop, and keeps the error, reasoning and pattern history it learns from.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semloop"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	root       string
	stateDir   string
	logLevel   string
	jsonOutput bool
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Breadcrumb-driven iteration loop with adaptive retries and pattern learning",
		Long: `Semloop reads AI_* breadcrumb annotations from a repository, runs tasks through
the exploration, reasoning, generation, review, compilation and learning phases,
and learns retry budgets and time estimates from every outcome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	pf.StringVar(&flags.root, "root", "", "Repository root to scan (default: git root or current directory)")
	pf.StringVar(&flags.stateDir, "state-dir", "", "Directory for databases, state and checkpoints")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.jsonOutput, "json", false, "Print results as JSON")

	cmd.AddCommand(
		initCmd(flags),
		configCmd(flags),
		scanCmd(flags),
		relatedCmd(flags),
		readyCmd(flags),
		watchCmd(flags),
		runCmd(flags),
		patternsCmd(flags),
		errorsCmd(flags),
		checkpointCmd(flags),
		eventsCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
			},
		},
	)
	return cmd
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
