package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bindingmodels "ledgerbridge/internal/binding/models"
	syncmodels "ledgerbridge/internal/sync/models"
	"ledgerbridge/internal/webhook/models"
	"ledgerbridge/internal/webhook/store"
	dErrors "ledgerbridge/pkg/domain-errors"
)

type fakeResolver struct {
	bindings map[string]*bindingmodels.TenantBinding
}

func (f *fakeResolver) ResolveActive(_ context.Context, _, externalTenantID string) (*bindingmodels.TenantBinding, error) {
	if b, ok := f.bindings[externalTenantID]; ok {
		return b, nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "no active binding for tenant")
}

type fakeQueue struct {
	jobs []*syncmodels.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job *syncmodels.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func boundTenant(externalTenantID string) (*fakeResolver, *bindingmodels.TenantBinding) {
	b := &bindingmodels.TenantBinding{
		ID:               uuid.New(),
		OrgID:            "org-a",
		Provider:         "xero",
		ExternalTenantID: externalTenantID,
		Status:           bindingmodels.StatusActive,
	}
	return &fakeResolver{bindings: map[string]*bindingmodels.TenantBinding{externalTenantID: b}}, b
}

func event(id, tenantID, category, resourceID string) models.Event {
	return models.Event{
		EventID:       id,
		TenantID:      tenantID,
		EventCategory: category,
		EventType:     "UPDATE",
		ResourceID:    resourceID,
		EventDateUTC:  "2026-08-28T10:00:00.000",
	}
}

func TestProcess_EnqueuesMappedBoundEvent(t *testing.T) {
	resolver, binding := boundTenant("ext-1")
	queue := &fakeQueue{}
	r := New(store.NewInMemory(), resolver, queue)

	report := r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-1", "ext-1", "INVOICE", "res-1"),
	}})

	assert.Equal(t, Report{Enqueued: 1}, report)
	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, binding.ID, job.BindingID)
	assert.Equal(t, syncmodels.EntityInvoice, job.Entity)
	assert.Equal(t, "res-1", job.ResourceID)
	assert.Equal(t, "evt-1", job.SourceEventID)
	assert.Equal(t, syncmodels.StatusPending, job.Status)
	assert.NotEmpty(t, job.ID)
}

func TestProcess_DuplicateEventIsNoOp(t *testing.T) {
	resolver, _ := boundTenant("ext-1")
	queue := &fakeQueue{}
	r := New(store.NewInMemory(), resolver, queue)

	payload := &models.Payload{Events: []models.Event{
		event("evt-1", "ext-1", "INVOICE", "res-1"),
	}}
	first := r.Process(context.Background(), payload)
	second := r.Process(context.Background(), payload)

	assert.Equal(t, Report{Enqueued: 1}, first)
	assert.Equal(t, Report{Duplicates: 1}, second)
	assert.Len(t, queue.jobs, 1, "redelivery enqueues nothing")
}

func TestProcess_UnboundTenantIsSkipped(t *testing.T) {
	queue := &fakeQueue{}
	r := New(store.NewInMemory(), &fakeResolver{}, queue)

	report := r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-1", "ext-unknown", "INVOICE", "res-1"),
	}})

	assert.Equal(t, Report{Skipped: 1}, report)
	assert.Empty(t, queue.jobs)
}

func TestProcess_UnmappedCategoryIsSkipped(t *testing.T) {
	resolver, _ := boundTenant("ext-1")
	queue := &fakeQueue{}
	r := New(store.NewInMemory(), resolver, queue)

	report := r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-1", "ext-1", "BANKTRANSACTION", "res-1"),
	}})

	assert.Equal(t, Report{Skipped: 1}, report)
	assert.Empty(t, queue.jobs)
}

func TestProcess_EventFailureDoesNotAbortSiblings(t *testing.T) {
	resolver, _ := boundTenant("ext-1")
	queue := &fakeQueue{err: errors.New("queue full")}
	events := store.NewInMemory()
	r := New(events, resolver, queue)

	report := r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-1", "ext-1", "INVOICE", "res-1"),
		event("evt-2", "ext-1", "CONTACT", "res-2"),
	}})
	assert.Equal(t, Report{Errors: 2}, report)

	// The queue recovers; the sibling pipeline stayed intact for new events.
	queue.err = nil
	report = r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-3", "ext-1", "CONTACT", "res-3"),
	}})
	assert.Equal(t, Report{Enqueued: 1}, report)
}

func TestProcess_MixedDelivery(t *testing.T) {
	resolver, _ := boundTenant("ext-1")
	queue := &fakeQueue{}
	r := New(store.NewInMemory(), resolver, queue)

	report := r.Process(context.Background(), &models.Payload{Events: []models.Event{
		event("evt-1", "ext-1", "INVOICE", "res-1"),
		event("evt-2", "ext-other", "INVOICE", "res-2"),
	}})

	assert.Equal(t, Report{Enqueued: 1, Skipped: 1}, report)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "evt-1", queue.jobs[0].SourceEventID)
}

func TestEntityKindFor(t *testing.T) {
	cases := []struct {
		category string
		want     syncmodels.EntityKind
		ok       bool
	}{
		{"INVOICE", syncmodels.EntityInvoice, true},
		{"INVOICE.UPDATED", syncmodels.EntityInvoice, true},
		{"invoice", syncmodels.EntityInvoice, true},
		{"CONTACT", syncmodels.EntityContact, true},
		{"Contact", syncmodels.EntityContact, true},
		{"BANKTRANSACTION", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := entityKindFor(tc.category)
		assert.Equal(t, tc.ok, ok, tc.category)
		assert.Equal(t, tc.want, got, tc.category)
	}
}
