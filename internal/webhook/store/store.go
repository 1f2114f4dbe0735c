// Package store persists received webhook events for deduplication.
package store

import (
	"context"

	"ledgerbridge/internal/webhook/models"
)

// Store records received events. Insert returns sentinel.ErrDuplicate when
// the external event id has been seen before.
type Store interface {
	Insert(ctx context.Context, e *models.ReceivedEvent) error
}
