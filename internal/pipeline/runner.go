// Package pipeline orchestrates batch runs over a store of items. A run is
// strictly sequential in queue order and snapshots both the item list and
// the settings up front, so changes made mid-run never mix outputs within
// one batch.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dunamismax/cleanframe/internal/blob"
	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/store"
)

// Cleaner is the slice of the cleanup client a run needs.
type Cleaner interface {
	Clean(ctx context.Context, filename string, data []byte, opts domain.CleanupOptions) ([]byte, error)
}

// Sink receives finished outputs, typically an archive builder. Sink errors
// are run-fatal. A nil sink keeps outputs only in the store.
type Sink interface {
	Add(name string, data []byte) error
}

// StatusSink observes item transitions as they happen, letting service mode
// mirror them into the job record. Nil means in-memory only.
type StatusSink interface {
	ItemChanged(ctx context.Context, item store.Item)
}

// Summary is what a run accomplished.
type Summary struct {
	Total           int
	Completed       int
	Failed          int
	OutputBytes     int64
	PixelsProcessed int64
	ComputeTimeMS   int64
}

// Runner executes batch runs. Compositor, Cleaner and Logger are required;
// Status and Progress are optional observers.
type Runner struct {
	Compositor compose.Compositor
	Cleaner    Cleaner
	Logger     *log.Logger
	Status     StatusSink
	Progress   func(done, total int)
}

// ExportAll composites every item onto the configured canvas and hands the
// results to the sink. Item failures (bad image, cleanup trouble beyond the
// fallback) mark the item failed and move on; only context cancellation and
// sink errors abort the run.
func (r *Runner) ExportAll(ctx context.Context, batch *store.BatchStore, settings domain.BatchSettings, opts domain.CleanupOptions, sink Sink) (Summary, error) {
	if err := settings.Validate(); err != nil {
		return Summary{}, err
	}
	preset, err := settings.PresetDims()
	if err != nil {
		return Summary{}, err
	}

	items := batch.Items()
	summary := Summary{Total: len(items)}
	if len(items) == 0 {
		return summary, nil
	}
	r.report(0, summary.Total)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := time.Now()
		output, err := r.exportOne(ctx, batch, item, settings, preset, opts)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			r.failItem(ctx, batch, item, err)
			summary.Failed++
			r.report(i+1, summary.Total)
			continue
		}

		if sink != nil {
			if err := sink.Add(domain.OutputFileName(item.Filename, preset, settings.Enhance), output); err != nil {
				return summary, err
			}
		}

		elapsed := time.Since(start)
		if err := batch.SetProcessed(ctx, item.ID, blob.NewMemory(output)); err != nil {
			r.Logger.Printf("item %s vanished mid-run: %v", item.ID, err)
			summary.Failed++
			r.report(i+1, summary.Total)
			continue
		}
		_ = batch.Complete(item.ID, elapsed)
		r.notify(ctx, batch, item.ID)

		summary.Completed++
		summary.OutputBytes += int64(len(output))
		summary.PixelsProcessed += int64(preset.Width) * int64(preset.Height)
		summary.ComputeTimeMS += elapsed.Milliseconds()
		r.report(i+1, summary.Total)
	}

	return summary, nil
}

func (r *Runner) exportOne(ctx context.Context, batch *store.BatchStore, item store.Item, settings domain.BatchSettings, preset domain.Preset, opts domain.CleanupOptions) ([]byte, error) {
	input, err := item.Source().Bytes(ctx)
	if err != nil {
		return nil, err
	}

	if settings.CleanBeforeExport {
		r.setStatus(ctx, batch, item.ID, domain.StatusDetecting)
		cleaned, err := r.Cleaner.Clean(ctx, item.Filename, input, opts)
		switch {
		case err == nil:
			input = cleaned
		case errors.Is(err, cleanup.ErrNotConfigured), errors.Is(err, cleanup.ErrService):
			// Degrade to the uncleaned source; the composite must match a
			// clean-disabled run byte for byte.
			r.Logger.Printf("cleanup skipped for %s: %v", item.Filename, err)
		default:
			return nil, err
		}
	}

	r.setStatus(ctx, batch, item.ID, domain.StatusRemoving)
	return r.Compositor.Composite(ctx, input, compose.Options{
		FitMode: settings.FitMode,
		Width:   preset.Width,
		Height:  preset.Height,
		Enhance: settings.Enhance,
	})
}

// CleanAll runs the removal service over every item, replacing previews with
// the cleaned bytes. Service errors fail the item and continue; an
// unconfigured service aborts the whole run because no item can succeed.
func (r *Runner) CleanAll(ctx context.Context, batch *store.BatchStore, opts domain.CleanupOptions) (Summary, error) {
	items := batch.Items()
	summary := Summary{Total: len(items)}
	if len(items) == 0 {
		return summary, nil
	}
	r.report(0, summary.Total)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		start := time.Now()
		input, err := item.Source().Bytes(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			r.failItem(ctx, batch, item, err)
			summary.Failed++
			r.report(i+1, summary.Total)
			continue
		}

		r.setStatus(ctx, batch, item.ID, domain.StatusDetecting)
		cleaned, err := r.Cleaner.Clean(ctx, item.Filename, input, opts)
		if errors.Is(err, cleanup.ErrNotConfigured) {
			return summary, err
		}
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			r.failItem(ctx, batch, item, err)
			summary.Failed++
			r.report(i+1, summary.Total)
			continue
		}

		elapsed := time.Since(start)
		if err := batch.UpdatePreview(ctx, item.ID, blob.NewMemory(cleaned)); err != nil {
			r.Logger.Printf("item %s vanished mid-run: %v", item.ID, err)
			summary.Failed++
			r.report(i+1, summary.Total)
			continue
		}
		_ = batch.Complete(item.ID, elapsed)
		r.notify(ctx, batch, item.ID)

		summary.Completed++
		summary.OutputBytes += int64(len(cleaned))
		summary.ComputeTimeMS += elapsed.Milliseconds()
		r.report(i+1, summary.Total)
	}

	return summary, nil
}

func (r *Runner) setStatus(ctx context.Context, batch *store.BatchStore, itemID string, status domain.Status) {
	_ = batch.SetStatus(itemID, status)
	r.notify(ctx, batch, itemID)
}

func (r *Runner) failItem(ctx context.Context, batch *store.BatchStore, item store.Item, cause error) {
	r.Logger.Printf("item %s (%s) failed: %v", item.ID, item.Filename, cause)
	_ = batch.Fail(item.ID, cause)
	r.notify(ctx, batch, item.ID)
}

func (r *Runner) notify(ctx context.Context, batch *store.BatchStore, itemID string) {
	if r.Status == nil {
		return
	}
	if item, ok := batch.Item(itemID); ok {
		r.Status.ItemChanged(ctx, item)
	}
}

func (r *Runner) report(done, total int) {
	if r.Progress != nil {
		r.Progress(done, total)
	}
}
