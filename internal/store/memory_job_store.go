package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/cleanframe/internal/domain"
)

// MemoryJobStore keeps job records in a map. It is the default backend and
// the one the tests use.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.JobRecord
	runs []domain.RunStats
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.JobRecord),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.JobRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.JobRecord{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id string, status domain.Status) (domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.JobRecord{}, ErrJobNotFound
	}

	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if status.Terminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) UpdateItem(_ context.Context, jobID string, item domain.ItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	found := false
	items := make([]domain.ItemRecord, len(job.Items))
	copy(items, job.Items)
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			found = true
			break
		}
	}
	if !found {
		return ErrItemNotFound
	}

	job.Items = items
	job.UpdatedAt = time.Now().UTC()
	recount(&job)
	s.jobs[jobID] = job
	return nil
}

func (s *MemoryJobStore) RecordRun(_ context.Context, stats domain.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, stats)
	return nil
}

func (s *MemoryJobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// Runs returns the recorded run stats, oldest first.
func (s *MemoryJobStore) Runs() []domain.RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RunStats, len(s.runs))
	copy(out, s.runs)
	return out
}

func cloneJob(job domain.JobRecord) domain.JobRecord {
	items := make([]domain.ItemRecord, len(job.Items))
	copy(items, job.Items)
	job.Items = items
	if job.CompletedAt != nil {
		at := *job.CompletedAt
		job.CompletedAt = &at
	}
	regions := make([]domain.Region, len(job.Options.ManualRegions))
	copy(regions, job.Options.ManualRegions)
	job.Options.ManualRegions = regions
	if job.Options.Transform != nil {
		tr := *job.Options.Transform
		job.Options.Transform = &tr
	}
	return job
}
