package store

import (
	"context"
	"errors"

	"github.com/dunamismax/cleanframe/internal/domain"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrItemNotFound = errors.New("item not found")
)

// JobStore persists service-mode batch jobs. The batch's bytes live in blob
// handles; the store only keeps the record clients poll.
type JobStore interface {
	Create(ctx context.Context, job domain.JobRecord) error
	Get(ctx context.Context, id string) (domain.JobRecord, bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) (domain.JobRecord, error)
	UpdateItem(ctx context.Context, jobID string, item domain.ItemRecord) error
	RecordRun(ctx context.Context, stats domain.RunStats) error
	Delete(ctx context.Context, id string) error
}

// recount refreshes the settled-item counters from the items themselves so
// progress never drifts from the item states.
func recount(job *domain.JobRecord) {
	completed, failed := 0, 0
	for _, item := range job.Items {
		switch item.Status {
		case domain.StatusCompleted:
			completed++
		case domain.StatusFailed:
			failed++
		}
	}
	job.CompletedImages = completed
	job.FailedImages = failed
}
