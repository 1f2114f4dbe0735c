// Package handler exposes tenant bindings over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ledgerbridge/internal/binding/service"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/platform/httputil"
	"ledgerbridge/pkg/requestcontext"
)

// BindingService is the service surface the handler drives.
type BindingService interface {
	List(ctx context.Context, orgID string) ([]service.View, error)
	Disconnect(ctx context.Context, orgID string, bindingID uuid.UUID) error
}

// Handler serves binding endpoints.
type Handler struct {
	bindings BindingService
	logger   *slog.Logger
}

// New constructs a binding handler.
func New(bindings BindingService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bindings: bindings, logger: logger}
}

type bindingView struct {
	BindingID          string    `json:"binding_id"`
	Provider           string    `json:"provider"`
	ExternalTenantID   string    `json:"external_tenant_id"`
	ExternalTenantName string    `json:"external_tenant_name"`
	Status             string    `json:"status"`
	ConnectedAt        time.Time `json:"connected_at"`
}

// List handles GET /orgs/{orgID}/bindings. The path org must match the
// authenticated org; anything else is invisible, not forbidden.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := requestcontext.OrgID(ctx)
	if chi.URLParam(r, "orgID") != orgID {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "organization not found"))
		return
	}

	views, err := h.bindings.List(ctx, orgID)
	if err != nil {
		h.logger.ErrorContext(ctx, "could not list bindings", "org_id", orgID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	out := make([]bindingView, 0, len(views))
	for _, v := range views {
		out = append(out, bindingView{
			BindingID:          v.Binding.ID.String(),
			Provider:           v.Binding.Provider,
			ExternalTenantID:   v.Binding.ExternalTenantID,
			ExternalTenantName: v.Binding.ExternalTenantName,
			Status:             string(v.Status),
			ConnectedAt:        v.Binding.CreatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"bindings": out})
}

// Disconnect handles POST /bindings/{id}/disconnect.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bindingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "binding id must be a UUID"))
		return
	}

	orgID := requestcontext.OrgID(ctx)
	if err := h.bindings.Disconnect(ctx, orgID, bindingID); err != nil {
		h.logger.WarnContext(ctx, "disconnect failed",
			"org_id", orgID, "binding_id", bindingID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
