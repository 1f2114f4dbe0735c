// Package server assembles the HTTP surface: routes, middleware chains, and
// the split between org-authenticated, webhook, and unauthenticated routes.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bindinghandler "ledgerbridge/internal/binding/handler"
	connecthandler "ledgerbridge/internal/connect/handler"
	granthandler "ledgerbridge/internal/grant/handler"
	"ledgerbridge/internal/platform/health"
	webhookhandler "ledgerbridge/internal/webhook/handler"
	"ledgerbridge/pkg/platform/middleware/orgauth"
	"ledgerbridge/pkg/platform/middleware/request"
)

const (
	requestTimeout = 30 * time.Second
	jsonBodyLimit  = 1 << 20
)

// Deps are the handlers the router mounts.
type Deps struct {
	Logger   *slog.Logger
	Health   *health.Handler
	Connect  *connecthandler.Handler
	Bindings *bindinghandler.Handler
	Grants   *granthandler.Handler
	Webhook  *webhookhandler.Handler
}

// NewRouter builds the full route tree.
//
// Three trust zones: webhook deliveries authenticate by HMAC signature,
// the OAuth callback authenticates by consumed state, and everything else
// business-facing requires the upstream org identity header.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recovery(deps.Logger))
	r.Use(request.Logger(deps.Logger))
	r.Use(request.Timeout(requestTimeout))

	deps.Health.Register(r)
	r.Get("/healthz", deps.Health.HandleLiveness)
	r.Handle("/metrics", promhttp.Handler())

	// Signature-authenticated; size limiting is the handler's own job since
	// it must read the raw body for HMAC verification.
	r.Post("/webhooks/xero", deps.Webhook.Receive)

	// Browser redirect from the provider; identity comes from the state.
	r.Get("/connect/xero/callback", deps.Connect.Callback)

	r.Group(func(r chi.Router) {
		r.Use(orgauth.RequireOrg)
		r.Use(request.BodyLimit(jsonBodyLimit))

		r.Get("/connect/xero", deps.Connect.Start)
		r.Post("/connect/xero/select", deps.Connect.Select)

		r.Get("/orgs/{orgID}/bindings", deps.Bindings.List)
		r.Post("/bindings/{id}/disconnect", deps.Bindings.Disconnect)

		r.Post("/admin/grants/refresh-expiring", deps.Grants.RefreshExpiring)
	})

	return r
}
