package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func patternsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect, export and import learned phase statistics",
	}
	cmd.AddCommand(patternsListCmd(flags), patternsRecommendCmd(flags),
		patternsExportCmd(flags), patternsImportCmd(flags))
	return cmd
}

func patternsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List learned statistics per phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				if flags.jsonOutput {
					return a.printJSON(a.learner.Snapshot())
				}
				for _, phase := range a.learner.Phases() {
					p, _ := a.learner.Get(phase)
					a.printf("%s: %d/%d succeeded (%.0f%%), avg retries %.2f, avg time %.1fs",
						phase, p.Successes, p.TotalAttempts, p.SuccessRate()*100, p.AvgRetries, p.AvgTime)
					if len(p.CommonApproaches) > 0 {
						a.printf(", approaches: %s", strings.Join(p.CommonApproaches, ", "))
					}
					a.printf("\n")
				}
				attempts, successes := a.learner.Totals()
				a.printf("%d phases, %d attempts, %d successes\n", len(a.learner.Phases()), attempts, successes)
				return nil
			})
		},
	}
}

func patternsRecommendCmd(flags *globalFlags) *cobra.Command {
	var complexity string
	cmd := &cobra.Command{
		Use:   "recommend <phase>",
		Short: "Recommend retries and time for a phase and complexity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				rec := a.learner.Recommend(args[0], strings.ToUpper(complexity))
				if flags.jsonOutput {
					return a.printJSON(rec)
				}
				source := "defaults"
				if rec.Known {
					source = "learned"
				}
				a.printf("%s (%s, %s): %d retries, %.1fs estimated, %.0f%% success probability\n",
					rec.Phase, rec.Complexity, source, rec.SuggestedRetries, rec.EstimatedTime,
					rec.SuccessProbability*100)
				for _, ap := range rec.CommonApproaches {
					a.printf("  approach: %s\n", ap)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&complexity, "complexity", "MEDIUM", "LOW, MEDIUM, HIGH or CRITICAL")
	return cmd
}

func patternsExportCmd(flags *globalFlags) *cobra.Command {
	var meta []string
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export learned statistics to a portable JSON file (default: persistence.patterns_file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseKeyValues(meta)
			if err != nil {
				return err
			}
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				path := a.patternsPath(args)
				if err := a.learner.Export(path, a.cfg.ProjectName, metadata); err != nil {
					return err
				}
				a.printf("Exported %d phases to %s\n", len(a.learner.Phases()), path)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "Metadata entry key=value (repeatable)")
	return cmd
}

func patternsImportCmd(flags *globalFlags) *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import learned statistics, replacing or merging with the current ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				path := a.patternsPath(args)
				if _, err := a.learner.Import(path, merge); err != nil {
					return err
				}
				if err := a.savePatterns(); err != nil {
					return err
				}
				mode := "Replaced"
				if merge {
					mode = "Merged"
				}
				a.printf("%s patterns from %s (%d phases)\n", mode, path, len(a.learner.Phases()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge with existing statistics instead of replacing them")
	return cmd
}

func (a *App) patternsPath(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return a.cfg.StatePath(a.cfg.Persistence.PatternsFile)
}

func parseKeyValues(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, v, ok := strings.Cut(e, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected key=value", e)
		}
		out[k] = v
	}
	return out, nil
}
