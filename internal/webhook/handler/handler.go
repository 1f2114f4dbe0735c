// Package handler exposes the webhook HTTP receiver. It owns the transport
// checks (size, signature, shape); event semantics live in the service.
package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	webhookmetrics "ledgerbridge/internal/webhook/metrics"
	"ledgerbridge/internal/webhook/models"
	"ledgerbridge/internal/webhook/service"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/platform/httputil"
)

// HeaderSignature carries the base64 HMAC-SHA256 of the raw body.
const HeaderSignature = "x-xero-signature"

// DefaultMaxBodyBytes bounds a delivery body. Provider deliveries are small;
// anything near this size is not a legitimate payload.
const DefaultMaxBodyBytes = 1 << 20

// Processor handles the events of a verified delivery.
type Processor interface {
	Process(ctx context.Context, p *models.Payload) service.Report
}

// Handler receives provider webhook deliveries.
type Handler struct {
	signingKey []byte
	processor  Processor
	maxBody    int64
	logger     *slog.Logger
	metrics    *webhookmetrics.Metrics
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics attaches webhook metrics.
func WithMetrics(m *webhookmetrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithMaxBodyBytes overrides the delivery size limit.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBody = n }
}

// New constructs a webhook handler. An empty signing key is allowed at
// construction so the route can exist before configuration; deliveries are
// then rejected with 503 instead of being accepted unverified.
func New(signingKey string, processor Processor, opts ...Option) *Handler {
	h := &Handler{
		processor: processor,
		maxBody:   DefaultMaxBodyBytes,
	}
	if signingKey != "" {
		h.signingKey = []byte(signingKey)
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// Receive handles POST /webhooks/xero. Validation (intent-to-receive)
// deliveries go through the same signature gate: correctly signed ones get
// 200, incorrectly signed ones 401, which is exactly the handshake contract.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if len(h.signingKey) == 0 {
		h.count("unconfigured")
		h.logger.ErrorContext(ctx, "webhook delivery rejected: signing key not configured")
		httputil.WriteError(w, dErrors.New(dErrors.CodeConfig, "webhook receiver not configured"))
		return
	}

	// Cheap pre-check on the declared length; the read below still enforces
	// the limit for chunked or lying clients.
	if r.ContentLength > h.maxBody {
		h.count("oversize")
		httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "delivery body too large"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody+1))
	if err != nil {
		h.count("read_error")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "could not read delivery body"))
		return
	}
	if int64(len(body)) > h.maxBody {
		h.count("oversize")
		httputil.WriteError(w, dErrors.New(dErrors.CodePayloadTooLarge, "delivery body too large"))
		return
	}

	if !h.verifySignature(body, r.Header.Get(HeaderSignature)) {
		h.count("bad_signature")
		h.logger.WarnContext(ctx, "webhook delivery rejected: signature mismatch")
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook signature"))
		return
	}

	var payload models.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.count("malformed")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed delivery payload"))
		return
	}

	report := h.processor.Process(ctx, &payload)
	h.count("ok")
	h.logger.InfoContext(ctx, "webhook delivery processed",
		"events", len(payload.Events),
		"enqueued", report.Enqueued,
		"duplicates", report.Duplicates,
		"skipped", report.Skipped,
		"errors", report.Errors,
	)
	w.WriteHeader(http.StatusOK)
}

// verifySignature checks the base64 HMAC-SHA256 of the raw body in constant
// time. A missing header never matches.
func (h *Handler) verifySignature(body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.signingKey)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func (h *Handler) count(outcome string) {
	if h.metrics != nil {
		h.metrics.IncDelivery(outcome)
	}
}
