// Package service processes verified webhook deliveries: dedup by external
// event id, binding resolution, category mapping, and sync job enqueue.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	bindingmodels "ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/platform/tracer"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sentinel"
	syncmodels "ledgerbridge/internal/sync/models"
	webhookmetrics "ledgerbridge/internal/webhook/metrics"
	"ledgerbridge/internal/webhook/models"
	"ledgerbridge/internal/webhook/store"
	dErrors "ledgerbridge/pkg/domain-errors"
)

// BindingResolver maps an external tenant id to its active binding.
type BindingResolver interface {
	ResolveActive(ctx context.Context, provider, externalTenantID string) (*bindingmodels.TenantBinding, error)
}

// Enqueuer adds a sync job to the queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *syncmodels.Job) error
}

// Receiver turns webhook events into sync jobs. Every event is handled
// independently; a failing event never blocks its siblings.
type Receiver struct {
	events   store.Store
	bindings BindingResolver
	queue    Enqueuer
	logger   *slog.Logger
	metrics  *webhookmetrics.Metrics
	tracer   *tracer.Tracer
	now      func() time.Time
}

// Option configures the Receiver.
type Option func(*Receiver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Receiver) { r.logger = logger }
}

// WithMetrics attaches webhook metrics.
func WithMetrics(m *webhookmetrics.Metrics) Option {
	return func(r *Receiver) { r.metrics = m }
}

// WithTracer attaches a tracer for per-event spans.
func WithTracer(t *tracer.Tracer) Option {
	return func(r *Receiver) { r.tracer = t }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Receiver) { r.now = now }
}

// New constructs a Receiver.
func New(events store.Store, bindings BindingResolver, queue Enqueuer, opts ...Option) *Receiver {
	r := &Receiver{
		events:   events,
		bindings: bindings,
		queue:    queue,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = tracer.New()
	}
	return r
}

// Report summarizes one delivery's event outcomes.
type Report struct {
	Enqueued   int
	Duplicates int
	Skipped    int
	Errors     int
}

// Process handles every event in a delivery. It never fails the delivery:
// the provider has already been answered by the time results matter, and a
// retry would only replay events the dedup layer drops.
func (r *Receiver) Process(ctx context.Context, p *models.Payload) Report {
	var report Report
	for i := range p.Events {
		result := r.processEvent(ctx, &p.Events[i])
		if r.metrics != nil {
			r.metrics.IncEvent(result)
		}
		switch result {
		case "enqueued":
			report.Enqueued++
		case "duplicate":
			report.Duplicates++
		case "error":
			report.Errors++
		default:
			report.Skipped++
		}
	}
	return report
}

func (r *Receiver) processEvent(ctx context.Context, e *models.Event) (result string) {
	ctx, span := r.tracer.Start(ctx, "webhook.event",
		"event_id", e.EventID,
		"event_category", e.EventCategory,
	)
	defer func() { span.End(nil) }()

	now := r.now().UTC()
	err := r.events.Insert(ctx, &models.ReceivedEvent{
		EventID:       e.EventID,
		Provider:      xero.Provider,
		TenantID:      e.TenantID,
		EventCategory: e.EventCategory,
		EventType:     e.EventType,
		ResourceID:    e.ResourceID,
		ReceivedAt:    now,
	})
	if errors.Is(err, sentinel.ErrDuplicate) {
		r.logger.DebugContext(ctx, "webhook event already processed", "event_id", e.EventID)
		return "duplicate"
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "could not record webhook event",
			"event_id", e.EventID, "error", err)
		return "error"
	}

	binding, err := r.bindings.ResolveActive(ctx, xero.Provider, e.TenantID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			r.logger.WarnContext(ctx, "webhook event for unbound tenant",
				"event_id", e.EventID, "external_tenant_id", e.TenantID)
			return "unbound"
		}
		r.logger.ErrorContext(ctx, "could not resolve binding for webhook event",
			"event_id", e.EventID, "error", err)
		return "error"
	}

	entity, ok := entityKindFor(e.EventCategory)
	if !ok {
		r.logger.DebugContext(ctx, "webhook event category not handled",
			"event_id", e.EventID, "event_category", e.EventCategory)
		return "unmapped"
	}

	job := &syncmodels.Job{
		ID:            ulid.Make().String(),
		BindingID:     binding.ID,
		Entity:        entity,
		ResourceID:    e.ResourceID,
		SourceEventID: e.EventID,
		Status:        syncmodels.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		r.logger.ErrorContext(ctx, "could not enqueue sync job",
			"event_id", e.EventID, "binding_id", binding.ID, "error", err)
		return "error"
	}

	r.logger.InfoContext(ctx, "sync job enqueued",
		"job_id", job.ID,
		"binding_id", binding.ID,
		"entity", string(entity),
		"resource_id", e.ResourceID,
	)
	return "enqueued"
}

// entityKindFor maps a provider event category to the entity kind we sync.
// Matching is case-insensitive substring so variants like "INVOICE.UPDATED"
// still land.
func entityKindFor(category string) (syncmodels.EntityKind, bool) {
	upper := strings.ToUpper(category)
	switch {
	case strings.Contains(upper, "INVOICE"):
		return syncmodels.EntityInvoice, true
	case strings.Contains(upper, "CONTACT"):
		return syncmodels.EntityContact, true
	default:
		return "", false
	}
}
