package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/linework/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
		now:  time.Now,
	}
}

func (s *MemoryJobStore) Create(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.update(ctx, id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Finish(ctx context.Context, id, status string, outputs []domain.JobOutput, errMsg string) (domain.Job, error) {
	return s.update(ctx, id, func(job *domain.Job) {
		job.Status = status
		job.Outputs = slices.Clone(outputs)
		job.Error = errMsg
	})
}

func (s *MemoryJobStore) update(ctx context.Context, id string, mutate func(*domain.Job)) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	mutate(&job)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

// cloneJob keeps callers from mutating stored slices.
func cloneJob(job domain.Job) domain.Job {
	job.Items = slices.Clone(job.Items)
	job.Outputs = slices.Clone(job.Outputs)
	return job
}
