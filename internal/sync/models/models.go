// Package models defines the sync job queue entities.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind is the kind of provider resource a job fetches.
type EntityKind string

const (
	EntityInvoice EntityKind = "invoice"
	EntityContact EntityKind = "contact"
)

// Status is the lifecycle state of a sync job.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one unit of sync work, produced by the webhook receiver and
// consumed by the worker. IDs are ULIDs so queue order follows insert order.
type Job struct {
	ID            string
	BindingID     uuid.UUID
	Entity        EntityKind
	ResourceID    string
	SourceEventID string
	Status        Status
	Attempts      int
	LastError     string
	ResultBytes   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
