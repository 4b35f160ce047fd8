package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func checkpointCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"checkpoints"},
		Short:   "List, show and compare session checkpoints",
	}
	cmd.AddCommand(checkpointListCmd(flags), checkpointShowCmd(flags), checkpointDiffCmd(flags))
	return cmd
}

func checkpointListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				infos, err := a.sessions.ListCheckpoints()
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return a.printJSON(infos)
				}
				for _, info := range infos {
					a.printf("%s  %s  %d turns  %s\n", info.Timestamp.Local().Format(time.DateTime),
						info.Name, info.TurnCount, info.Task)
				}
				return nil
			})
		},
	}
}

func checkpointShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				cp, err := a.sessions.Read(args[0])
				if err != nil {
					return err
				}
				return a.printJSON(cp)
			})
		},
	}
}

func checkpointDiffCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <a> <b>",
		Short: "Compare two checkpoints",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				d, err := a.sessions.CompareCheckpoints(args[0], args[1])
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return a.printJSON(d)
				}
				if d.Empty() {
					a.printf("No differences\n")
					return nil
				}
				for _, line := range d.Summary {
					a.printf("%s\n", line)
				}
				return nil
			})
		},
	}
}
