package main

import (
	"context"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func configCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and the layers it came from",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(_ context.Context, a *App) error {
				if flags.jsonOutput {
					return a.printJSON(map[string]any{"sources": a.sources, "config": a.cfg})
				}
				for _, src := range a.sources {
					state := "not found"
					if src.Loaded {
						state = "loaded"
					}
					a.printf("# %s: %s (%s)\n", src.Layer, src.Path, state)
				}
				enc := yaml.NewEncoder(a.out)
				enc.SetIndent(2)
				if err := enc.Encode(a.cfg); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}
