package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/pipeline"
)

func newCleanCommand() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "clean <image>...",
		Short: "Run images through the watermark removal service and save the cleaned copies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := loadBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			defer batch.Clear(context.Background())

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			compositor, err := compose.New()
			if err != nil {
				return err
			}

			logger := newRunLogger(cmd)
			runner := &pipeline.Runner{
				Compositor: compositor,
				Cleaner:    newCleaner(logger),
				Logger:     logger,
			}

			summary, err := runner.CleanAll(cmd.Context(), batch, domain.DefaultProcessingOptions().Cleanup())
			if errors.Is(err, cleanup.ErrNotConfigured) {
				return fmt.Errorf("%w; set CLEANFRAME_CLEANUP_URL to the removal service endpoint", err)
			}
			if err != nil {
				return err
			}

			written := 0
			for _, item := range batch.Items() {
				if item.Status != domain.StatusCompleted || item.Preview == nil {
					continue
				}
				data, err := item.Preview.Bytes(cmd.Context())
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", item.Filename, err)
					continue
				}
				name := domain.CleanedFileName(item.Filename)
				if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", name, err)
				}
				written++
			}

			reportItemFailures(cmd, batch)
			if summary.Total > 0 && summary.Completed == 0 {
				return fmt.Errorf("failed: none of the %d images could be cleaned", summary.Total)
			}

			if summary.Failed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "completed with %d failures: cleaned %d of %d images into %s\n", summary.Failed, written, summary.Total, outDir)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "completed: cleaned %d images into %s\n", written, outDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the cleaned images")

	return cmd
}
