package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func errorsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Track, search and resolve recorded errors",
	}
	cmd.AddCommand(errorsListCmd(flags), errorsTrackCmd(flags), errorsSimilarCmd(flags),
		errorsSuggestCmd(flags), errorsResolveCmd(flags))
	return cmd
}

func errorsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded errors, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				records := a.errors.Records()
				if flags.jsonOutput {
					return a.printJSON(records)
				}
				for _, r := range records {
					state := "open"
					if r.Resolved {
						state = "resolved"
					}
					a.printf("%s x%d %s %s  %s\n", r.Fingerprint, r.Count, state,
						r.LastSeen.Format(time.DateTime), r.Message)
				}
				st := a.errors.Stats()
				a.printf("%d errors (%d resolved, %d recurring), %d occurrences\n",
					st.Total, st.Resolved, st.Recurring, st.Instances)
				return nil
			})
		},
	}
}

func errorsTrackCmd(flags *globalFlags) *cobra.Command {
	var where string
	cmd := &cobra.Command{
		Use:   "track <message>",
		Short: "Record an error occurrence and print its fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				fp := a.errors.Track(args[0], where)
				if err := a.errors.Save(ctx); err != nil {
					return err
				}
				a.printf("%s\n", fp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&where, "context", "", "Where the error occurred")
	return cmd
}

func errorsSimilarCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "similar <message>",
		Short: "Find recorded errors similar to a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				matches := a.errors.FindSimilar(args[0], limit)
				if flags.jsonOutput {
					return a.printJSON(matches)
				}
				for _, m := range matches {
					a.printf("%.2f %s %s\n", m.Similarity, m.Record.Fingerprint, m.Record.Message)
					if m.Record.Resolved {
						a.printf("     fix: %s\n", m.Record.Resolution)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum matches (0 = configured default)")
	return cmd
}

func errorsSuggestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "suggest <message>",
		Short: "Print resolutions of similar resolved errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				suggestions := a.errors.ResolutionSuggestions(args[0])
				if flags.jsonOutput {
					return a.printJSON(suggestions)
				}
				for _, s := range suggestions {
					a.printf("%s\n", s)
				}
				return nil
			})
		},
	}
}

func errorsResolveCmd(flags *globalFlags) *cobra.Command {
	var fixRef string
	cmd := &cobra.Command{
		Use:   "resolve <fingerprint> <resolution>",
		Short: "Mark an error as resolved",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *App) error {
				if err := a.errors.MarkResolved(args[0], args[1], fixRef); err != nil {
					return err
				}
				if err := a.errors.Save(ctx); err != nil {
					return err
				}
				a.printf("Resolved %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fixRef, "fix-ref", "", "Reference to the fix (commit, PR)")
	return cmd
}
