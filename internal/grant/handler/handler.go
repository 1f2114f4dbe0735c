// Package handler exposes grant administration endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"ledgerbridge/internal/grant/service"
	"ledgerbridge/pkg/platform/httputil"
)

// Refresher runs the proactive refresh sweep.
type Refresher interface {
	RefreshExpiring(ctx context.Context, orgID string) (service.Report, error)
}

// Handler serves grant admin endpoints.
type Handler struct {
	tokens Refresher
	logger *slog.Logger
}

// New constructs a grant admin handler.
func New(tokens Refresher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tokens: tokens, logger: logger}
}

// RefreshExpiring handles POST /admin/grants/refresh-expiring. An optional
// org_id query parameter narrows the sweep; default is all organizations.
func (h *Handler) RefreshExpiring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := r.URL.Query().Get("org_id")

	report, err := h.tokens.RefreshExpiring(ctx, orgID)
	if err != nil {
		h.logger.ErrorContext(ctx, "refresh sweep failed", "org_id", orgID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "refresh sweep completed",
		"org_id", orgID,
		"scanned", report.Scanned,
		"refreshed", report.Refreshed,
		"failed", report.Failed,
	)
	httputil.WriteJSON(w, http.StatusOK, report)
}
