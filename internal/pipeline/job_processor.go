package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dunamismax/cleanframe/internal/blob"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/storage"
	"github.com/dunamismax/cleanframe/internal/store"
)

// ObjectStore is the slice of the storage client a persisted job run needs:
// sources are read back through blob handles and finished outputs are written
// next to them under the job's prefix.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// JobProcessor runs a persisted job end to end: it rebuilds the working
// batch from the job's stored objects, executes the run, mirrors every item
// transition back into the job record, and settles the job's final status.
// The API uses it inline; the queue worker uses the same code path.
type JobProcessor struct {
	Jobs       store.JobStore
	Blobs      ObjectStore
	Compositor compose.Compositor
	Cleaner    Cleaner
	Logger     *log.Logger
}

// Process executes one run of the job. A transform block in the options
// selects a full composite export; without one the run is cleanup-only,
// matching the original service. The returned summary reflects per-item
// outcomes; the error is non-nil only for whole-run failures.
func (p *JobProcessor) Process(ctx context.Context, jobID string, opts domain.ProcessingOptions) (Summary, error) {
	job, ok, err := p.Jobs.Get(ctx, jobID)
	if err != nil {
		return Summary{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !ok {
		return Summary{}, store.ErrJobNotFound
	}

	settings, err := opts.Settings()
	if err != nil {
		p.setJobStatus(ctx, jobID, domain.StatusFailed)
		return Summary{}, err
	}

	p.setJobStatus(ctx, jobID, domain.StatusDetecting)

	batch := store.NewBatchStore()
	entries := make([]store.Entry, 0, len(job.Items))
	for _, item := range job.Items {
		entries = append(entries, store.Entry{
			Filename: item.Filename,
			Original: blob.NewObject(p.Blobs, item.OriginalPath, 0),
		})
	}
	ids := batch.Add(ctx, entries)

	run := &jobRun{
		proc:     p,
		jobID:    jobID,
		export:   opts.Transform != nil,
		settings: settings,
		records:  make(map[string]domain.ItemRecord, len(ids)),
	}
	for i, storeID := range ids {
		run.records[storeID] = job.Items[i]
	}
	if run.export {
		run.preset, _ = settings.PresetDims()
	}

	runner := &Runner{
		Compositor: p.Compositor,
		Cleaner:    p.Cleaner,
		Logger:     p.Logger,
		Status:     run,
	}

	var summary Summary
	if run.export {
		summary, err = runner.ExportAll(ctx, batch, settings, opts.Cleanup(), nil)
	} else {
		summary, err = runner.CleanAll(ctx, batch, opts.Cleanup())
	}
	if err != nil {
		p.setJobStatus(ctx, jobID, domain.StatusFailed)
		return summary, err
	}

	final := domain.StatusCompleted
	if summary.Total > 0 && summary.Failed == summary.Total {
		final = domain.StatusFailed
	}
	p.setJobStatus(ctx, jobID, final)

	if err := p.Jobs.RecordRun(ctx, domain.RunStats{
		JobID:           jobID,
		ImagesProcessed: int64(summary.Completed),
		PixelsProcessed: summary.PixelsProcessed,
		OutputBytes:     summary.OutputBytes,
		ComputeTimeMS:   summary.ComputeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}); err != nil {
		p.Logger.Printf("job %s run stats write failed: %v", jobID, err)
	}

	return summary, nil
}

func (p *JobProcessor) setJobStatus(ctx context.Context, jobID string, status domain.Status) {
	if _, err := p.Jobs.UpdateStatus(ctx, jobID, status); err != nil {
		p.Logger.Printf("job %s status update failed status=%s err=%v", jobID, status, err)
	}
}

// jobRun mirrors one run's item transitions into the job record. It maps the
// working store's item ids back to the persisted records seeded at Add time.
type jobRun struct {
	proc     *JobProcessor
	jobID    string
	export   bool
	settings domain.BatchSettings
	preset   domain.Preset
	records  map[string]domain.ItemRecord
}

func (r *jobRun) ItemChanged(ctx context.Context, item store.Item) {
	rec, ok := r.records[item.ID]
	if !ok {
		return
	}

	rec.Status = item.Status
	rec.Error = item.Error
	rec.CompletedAt = item.CompletedAt
	rec.ProcessingMS = item.ProcessingMS

	if item.Status == domain.StatusCompleted {
		if err := r.storeOutput(ctx, &rec, item); err != nil {
			r.proc.Logger.Printf("item %s output write failed: %v", rec.ID, err)
			rec.Status = domain.StatusFailed
			rec.Error = fmt.Sprintf("store output: %v", err)
		}
	}

	r.records[item.ID] = rec
	if err := r.proc.Jobs.UpdateItem(ctx, r.jobID, rec); err != nil {
		r.proc.Logger.Printf("item %s record update failed: %v", rec.ID, err)
	}
}

func (r *jobRun) storeOutput(ctx context.Context, rec *domain.ItemRecord, item store.Item) error {
	output := item.Processed
	if output == nil {
		output = item.Preview
	}
	if output == nil {
		return fmt.Errorf("completed item has no output handle")
	}

	data, err := output.Bytes(ctx)
	if err != nil {
		return err
	}

	name := domain.CleanedFileName(rec.Filename)
	if r.export {
		name = domain.OutputFileName(rec.Filename, r.preset, r.settings.Enhance)
	}
	key := storage.ProcessedKey(r.jobID, rec.ID, name)
	if err := r.proc.Blobs.WriteObject(ctx, key, data, storage.ContentTypeForName(name)); err != nil {
		return err
	}

	rec.OutputName = name
	rec.OutputPath = key
	return nil
}
