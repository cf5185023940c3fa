package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cleanframe",
		Short:         "Batch watermark cleanup and canvas export",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newCleanCommand())
	rootCmd.AddCommand(newPresetsCommand())

	return rootCmd
}
