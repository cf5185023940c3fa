package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dunamismax/cleanframe/internal/archive"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/pipeline"
)

func newExportCommand() *cobra.Command {
	var (
		fitMode string
		preset  string
		enhance bool
		clean   bool
		out     string
	)

	cmd := &cobra.Command{
		Use:   "export <image>...",
		Short: "Composite images onto a fixed canvas and bundle them into a zip",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := domain.BatchSettings{
				FitMode:           domain.FitMode(strings.ToLower(fitMode)),
				Preset:            strings.ToLower(preset),
				Enhance:           enhance,
				CleanBeforeExport: clean,
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			batch, err := loadBatch(cmd.Context(), args)
			if err != nil {
				return err
			}
			defer batch.Clear(context.Background())

			if err := compose.Startup(); err != nil {
				return fmt.Errorf("start compositor: %w", err)
			}
			defer compose.Shutdown()

			compositor, err := compose.New()
			if err != nil {
				return err
			}

			logger := newRunLogger(cmd)
			runner := &pipeline.Runner{
				Compositor: compositor,
				Cleaner:    newCleaner(logger),
				Logger:     logger,
				Progress: func(done, total int) {
					fmt.Fprintf(cmd.OutOrStdout(), "processed %d/%d\n", done, total)
				},
			}

			if out == "" {
				out = archive.DownloadName(time.Now())
			}
			outFile, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create archive: %w", err)
			}

			builder := archive.NewBuilder(outFile)
			summary, runErr := runner.ExportAll(cmd.Context(), batch, settings, domain.DefaultProcessingOptions().Cleanup(), builder)
			if runErr != nil {
				outFile.Close()
				os.Remove(out)
				return runErr
			}

			reportItemFailures(cmd, batch)
			if summary.Total > 0 && summary.Completed == 0 {
				outFile.Close()
				os.Remove(out)
				return fmt.Errorf("failed: none of the %d images could be exported", summary.Total)
			}

			if err := builder.Close(); err != nil {
				outFile.Close()
				os.Remove(out)
				return fmt.Errorf("finalize archive: %w", err)
			}
			if err := outFile.Close(); err != nil {
				return fmt.Errorf("close archive: %w", err)
			}

			if summary.Failed > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "completed with %d failures: exported %d of %d images to %s\n", summary.Failed, summary.Completed, summary.Total, out)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "completed: exported %d images to %s\n", summary.Completed, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fitMode, "fit", string(domain.FitContainBlur), "fit mode: contain_blur, contain_black or cover")
	cmd.Flags().StringVar(&preset, "preset", domain.PresetUltra8K, "canvas preset: "+strings.Join(domain.PresetNames(), " or "))
	cmd.Flags().BoolVar(&enhance, "enhance", false, "apply the enhancement pass before encoding")
	cmd.Flags().BoolVar(&clean, "clean", false, "run watermark cleanup before compositing")
	cmd.Flags().StringVar(&out, "out", "", "archive path (defaults to a timestamped name)")

	return cmd
}
