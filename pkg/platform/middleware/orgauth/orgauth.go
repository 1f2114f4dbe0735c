// Package orgauth extracts the calling organization's identity.
//
// Authentication itself is an upstream collaborator (the gateway sits behind
// the SaaS application's auth layer); this middleware only trusts and
// propagates the already-verified X-Org-ID header.
package orgauth

import (
	"net/http"

	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/platform/httputil"
	"ledgerbridge/pkg/requestcontext"
)

// HeaderOrgID carries the authenticated organization id set by the upstream proxy.
const HeaderOrgID = "X-Org-ID"

// RequireOrg rejects requests without an organization identity and stores it
// in the request context for handlers and services.
func RequireOrg(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := r.Header.Get(HeaderOrgID)
		if orgID == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing organization identity"))
			return
		}
		ctx := requestcontext.WithOrgID(r.Context(), orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
