// Package store persists the sync job queue.
package store

import (
	"context"
	"time"

	"ledgerbridge/internal/sync/models"
)

// Store is the job queue contract. Enqueue returns sentinel.ErrDuplicate for
// an already-queued job id; the mark methods return sentinel.ErrNotFound for
// unknown ids. Attempts count every execution, successful or not.
type Store interface {
	Enqueue(ctx context.Context, job *models.Job) error
	FetchPending(ctx context.Context, limit int) ([]*models.Job, error)
	MarkDone(ctx context.Context, id string, resultBytes int64, now time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string, now time.Time) error
	RecordAttempt(ctx context.Context, id string, lastError string, now time.Time) error
}
