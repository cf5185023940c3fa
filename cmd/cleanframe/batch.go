package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dunamismax/cleanframe/internal/blob"
	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/config"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/store"
)

// loadBatch queues the given files without reading them; the run pulls
// bytes lazily through the handles.
func loadBatch(ctx context.Context, paths []string) (*store.BatchStore, error) {
	if len(paths) > domain.MaxBatchSize {
		return nil, fmt.Errorf("%d images exceeds the batch limit of %d", len(paths), domain.MaxBatchSize)
	}

	entries := make([]store.Entry, 0, len(paths))
	for _, path := range paths {
		handle, err := blob.NewFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, store.Entry{Filename: filepath.Base(path), Original: handle})
	}

	batch := store.NewBatchStore()
	batch.Add(ctx, entries)
	return batch, nil
}

func newCleaner(logger *log.Logger) *cleanup.Client {
	cfg := config.Load().Cleanup
	return cleanup.NewClient(cleanup.Config{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.Timeout,
	}, logger)
}

func newRunLogger(cmd *cobra.Command) *log.Logger {
	return log.New(cmd.ErrOrStderr(), "[cleanframe] ", log.LstdFlags|log.Lmsgprefix)
}

func reportItemFailures(cmd *cobra.Command, batch *store.BatchStore) {
	for _, item := range batch.Items() {
		if item.Status == domain.StatusFailed {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %s\n", item.Filename, item.Error)
		}
	}
}
