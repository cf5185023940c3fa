package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dunamismax/cleanframe/internal/domain"
)

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available canvas presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range domain.PresetNames() {
				preset, ok := domain.PresetByName(name)
				if !ok {
					continue
				}
				fmt.Fprintf(w, "%s\t%dx%d\tsuffix %s\n", preset.Name, preset.Width, preset.Height, preset.Suffix)
			}
			return w.Flush()
		},
	}
}
