package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semloop/breadcrumb"
	"github.com/c360studio/semloop/config"
)

func initCmd(flags *globalFlags) *cobra.Command {
	var force, user bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default semloop.yaml into the repository root",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user {
				path, err := config.NewLoader(newLogger(flags.logLevel, cmd.ErrOrStderr())).EnsureUserConfig()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User config: %s\n", path)
				return nil
			}
			root := flags.root
			if root == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				root = wd
			}
			path := filepath.Join(root, config.ProjectConfigFile)
			if fileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.DefaultConfig()
			cfg.ProjectName = filepath.Base(root)
			if err := cfg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&user, "user", false, "Create the user config (~/.config/semloop/config.yaml) if missing")
	return cmd
}

func scanCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the repository and print the breadcrumb map",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				g, err := a.scan(ctx)
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return a.printJSON(map[string]any{
						"breadcrumbs": g.All(),
						"markers":     g.GetMap(),
						"edges":       g.Edges(),
						"warnings":    g.Warnings(),
					})
				}
				printGraph(a, g)
				return nil
			})
		},
	}
}

func printGraph(a *App, g *breadcrumb.Graph) {
	groups := g.GetMap()
	markers := make([]string, 0, len(groups))
	for m := range groups {
		markers = append(markers, m)
	}
	sort.Strings(markers)

	for _, m := range markers {
		a.printf("%s (%d)\n", m, len(groups[m]))
		for _, bc := range groups[m] {
			printBreadcrumb(a, bc)
		}
	}
	var unmarked []*breadcrumb.Breadcrumb
	for _, bc := range g.All() {
		if bc.Marker == "" {
			unmarked = append(unmarked, bc)
		}
	}
	if len(unmarked) > 0 {
		a.printf("(unmarked) (%d)\n", len(unmarked))
		for _, bc := range unmarked {
			printBreadcrumb(a, bc)
		}
	}
	for _, w := range g.Warnings() {
		a.printf("warning: %s\n", w)
	}
	a.printf("%d breadcrumbs, %d edges, %d warnings\n", g.Len(), len(g.Edges()), len(g.Warnings()))
}

func printBreadcrumb(a *App, bc *breadcrumb.Breadcrumb) {
	symbol := ""
	if bc.Symbol != "" {
		symbol = " " + bc.Symbol
	}
	a.printf("  %s %s %s p%d %s%s\n", bc.Key(), bc.Phase, bc.Status, bc.Priority, bc.EffectiveComplexity(), symbol)
}

func relatedCmd(flags *globalFlags) *cobra.Command {
	var transitive bool
	cmd := &cobra.Command{
		Use:   "related <file:line>",
		Short: "List breadcrumbs related to the one at a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				g, err := a.scan(ctx)
				if err != nil {
					return err
				}
				bc, err := g.Lookup(args[0])
				if err != nil {
					return err
				}
				related := g.FindRelated(bc)
				if transitive {
					related = g.Closure(bc)
				}
				if flags.jsonOutput {
					return a.printJSON(related)
				}
				for _, r := range related {
					printBreadcrumb(a, r)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&transitive, "transitive", false, "Follow relationships transitively")
	return cmd
}

func readyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "List unclaimed, unfinished breadcrumbs whose dependencies are satisfied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				g, err := a.scan(ctx)
				if err != nil {
					return err
				}
				ready := g.Ready(time.Now())
				if flags.jsonOutput {
					return a.printJSON(ready)
				}
				for _, bc := range ready {
					printBreadcrumb(a, bc)
				}
				return nil
			})
		},
	}
}

func watchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-scan and print a summary whenever annotated files change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer cancel()

				w, err := breadcrumb.NewWatcher(breadcrumb.WatcherConfig{
					Scan:          a.scanConfig(),
					DebounceDelay: a.cfg.Breadcrumbs.DebounceDelay,
					Logger:        a.logger,
				})
				if err != nil {
					return fmt.Errorf("create watcher: %w", err)
				}
				defer w.Stop()
				if err := w.Start(ctx); err != nil {
					return err
				}

				for {
					select {
					case <-ctx.Done():
						return nil
					case g := <-w.Updates():
						a.printf("[%s] %d breadcrumbs, %d ready, %d warnings\n",
							time.Now().Format(time.TimeOnly), g.Len(), len(g.Ready(time.Now())), len(g.Warnings()))
					}
				}
			})
		},
	}
}
