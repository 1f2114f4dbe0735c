package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/sync/models"
)

// InMemory is a map-backed queue for tests and local runs. Pending jobs come
// back in id order, which is insert order for ULID ids.
type InMemory struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewInMemory constructs an empty in-memory queue.
func NewInMemory() *InMemory {
	return &InMemory{jobs: make(map[string]*models.Job)}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Enqueue(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return sentinel.ErrDuplicate
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *InMemory) FetchPending(_ context.Context, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.StatusPending {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkDone(_ context.Context, id string, resultBytes int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	j.Status = models.StatusDone
	j.Attempts++
	j.ResultBytes = resultBytes
	j.LastError = ""
	j.UpdatedAt = now
	return nil
}

func (s *InMemory) MarkFailed(_ context.Context, id string, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	j.Status = models.StatusFailed
	j.Attempts++
	j.LastError = lastError
	j.UpdatedAt = now
	return nil
}

func (s *InMemory) RecordAttempt(_ context.Context, id string, lastError string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	j.Attempts++
	j.LastError = lastError
	j.UpdatedAt = now
	return nil
}

// Find returns a job snapshot, for tests.
func (s *InMemory) Find(id string) (*models.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}
