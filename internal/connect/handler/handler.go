// Package handler exposes the OAuth connect flow over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	bindingmodels "ledgerbridge/internal/binding/models"
	"ledgerbridge/internal/connect/state"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/platform/httputil"
	"ledgerbridge/pkg/requestcontext"
)

// StateCookie carries the minted state through the browser redirect as a
// second factor next to the store-side pending auth.
const StateCookie = "lb_oauth_state"

// Flow is the connect service surface the handler drives.
type Flow interface {
	Start(ctx context.Context, orgID string) (authorizeURL, stateToken string, err error)
	Callback(ctx context.Context, stateToken, code string) (*state.PendingConnection, error)
	Select(ctx context.Context, orgID string, connectionID uuid.UUID, tenantID string) (*bindingmodels.TenantBinding, error)
}

// Handler serves the connect endpoints.
type Handler struct {
	flow   Flow
	logger *slog.Logger
}

// New constructs a connect handler.
func New(flow Flow, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{flow: flow, logger: logger}
}

// Start handles GET /connect/xero: mint state, set the state cookie, and
// redirect to the provider's authorize endpoint.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := requestcontext.OrgID(ctx)

	authorizeURL, stateToken, err := h.flow.Start(ctx, orgID)
	if err != nil {
		h.logger.ErrorContext(ctx, "could not start oauth flow", "org_id", orgID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    stateToken,
		Path:     "/connect",
		MaxAge:   int(state.DefaultTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

type tenantView struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	TenantType string `json:"tenant_type"`
}

type callbackResponse struct {
	ConnectionID string       `json:"connection_id"`
	Tenants      []tenantView `json:"tenants"`
}

// Callback handles GET /connect/xero/callback. The caller's identity comes
// from the consumed state, not a header: the request is a browser redirect
// from the provider.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if denial := q.Get("error"); denial != "" {
		h.logger.WarnContext(ctx, "authorization denied upstream", "error", denial)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "authorization was denied"))
		return
	}

	stateToken := q.Get("state")
	code := q.Get("code")
	if stateToken == "" || code == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing state or code"))
		return
	}

	// Double-submit check: the browser that finishes the flow must be the
	// one that started it.
	cookie, err := r.Cookie(StateCookie)
	if err != nil || cookie.Value != stateToken {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired state"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    "",
		Path:     "/connect",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	conn, err := h.flow.Callback(ctx, stateToken, code)
	if err != nil {
		h.logger.WarnContext(ctx, "oauth callback failed", "error", err)
		httputil.WriteError(w, err)
		return
	}

	resp := callbackResponse{ConnectionID: conn.ID.String()}
	for _, t := range conn.Tenants {
		resp.Tenants = append(resp.Tenants, tenantView{
			TenantID:   t.TenantID,
			TenantName: t.TenantName,
			TenantType: t.TenantType,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// SelectTenantRequest is the body of POST /connect/xero/select.
type SelectTenantRequest struct {
	ConnectionID string `json:"connection_id"`
	TenantID     string `json:"tenant_id"`
}

// Validate implements httputil.Validatable.
func (r *SelectTenantRequest) Validate() error {
	if r.ConnectionID == "" {
		return errors.New("connection_id is required")
	}
	if _, err := uuid.Parse(r.ConnectionID); err != nil {
		return errors.New("connection_id must be a UUID")
	}
	if r.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	return nil
}

type bindingResponse struct {
	BindingID          string `json:"binding_id"`
	ExternalTenantID   string `json:"external_tenant_id"`
	ExternalTenantName string `json:"external_tenant_name"`
	Status             string `json:"status"`
}

// Select handles POST /connect/xero/select: bind one offered tenant to the
// caller's organization.
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeJSON[SelectTenantRequest](w, r, h.logger)
	if !ok {
		return
	}
	connectionID := uuid.MustParse(req.ConnectionID)

	b, err := h.flow.Select(ctx, requestcontext.OrgID(ctx), connectionID, req.TenantID)
	if err != nil {
		h.logger.WarnContext(ctx, "tenant selection failed",
			"connection_id", req.ConnectionID,
			"tenant_id", req.TenantID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, bindingResponse{
		BindingID:          b.ID.String(),
		ExternalTenantID:   b.ExternalTenantID,
		ExternalTenantName: b.ExternalTenantName,
		Status:             string(b.Status),
	})
}
