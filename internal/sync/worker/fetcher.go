package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	bindingmodels "ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sentinel"
	"ledgerbridge/internal/sync/models"
	dErrors "ledgerbridge/pkg/domain-errors"
)

// BindingSource loads bindings by id. The binding store satisfies it.
type BindingSource interface {
	FindByID(ctx context.Context, id uuid.UUID) (*bindingmodels.TenantBinding, error)
}

// ClientSource hands out authenticated provider clients. The token service
// satisfies it.
type ClientSource interface {
	ClientFor(ctx context.Context, grantID uuid.UUID, externalTenantID string) (*xero.Client, error)
}

// ResourceFetcher resolves a job's binding to a live client and fetches the
// named resource.
type ResourceFetcher struct {
	bindings BindingSource
	tokens   ClientSource
}

// NewResourceFetcher constructs a ResourceFetcher.
func NewResourceFetcher(bindings BindingSource, tokens ClientSource) *ResourceFetcher {
	return &ResourceFetcher{bindings: bindings, tokens: tokens}
}

// Fetch returns the raw provider payload for the job's resource. Jobs whose
// binding has been revoked since enqueue come back as needs_reauthorization,
// which parks them without retry.
func (f *ResourceFetcher) Fetch(ctx context.Context, job *models.Job) ([]byte, error) {
	path, err := resourcePath(job.Entity, job.ResourceID)
	if err != nil {
		return nil, err
	}

	b, err := f.bindings.FindByID(ctx, job.BindingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "binding not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not load binding")
	}
	if b.Status != bindingmodels.StatusActive {
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "binding has been revoked")
	}

	client, err := f.tokens.ClientFor(ctx, b.GrantID, b.ExternalTenantID)
	if err != nil {
		return nil, err
	}
	return client.Get(ctx, path)
}

func resourcePath(entity models.EntityKind, resourceID string) (string, error) {
	switch entity {
	case models.EntityInvoice:
		return "/Invoices/" + resourceID, nil
	case models.EntityContact:
		return "/Contacts/" + resourceID, nil
	default:
		return "", dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unknown entity kind %q", entity))
	}
}
