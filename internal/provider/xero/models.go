package xero

import "time"

// Provider is the provider discriminator stored on bindings.
const Provider = "xero"

// Endpoint defaults for the Xero identity and accounting APIs.
// Overridable for tests via Adapter options.
const (
	defaultAuthorizeURL   = "https://login.xero.com/identity/connect/authorize"
	defaultTokenURL       = "https://identity.xero.com/connect/token"
	defaultRevocationURL  = "https://identity.xero.com/connect/revocation"
	defaultConnectionsURL = "https://api.xero.com/connections"
	defaultAPIBaseURL     = "https://api.xero.com/api.xro/2.0"
)

// TokenSet is the result of an authorization-code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	TokenType    string
	Scope        string

	// IDToken is present on authorization-code exchanges only.
	IDToken string
	// AuthEventID is extracted from the id_token when present; Xero scopes
	// tenant connections to the authentication event that created them.
	AuthEventID string
}

// ExpiresAt converts the relative expiry into an absolute UTC instant.
func (t TokenSet) ExpiresAt(now time.Time) time.Time {
	return now.UTC().Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Tenant is one entry from the connections listing: an external accounting
// organisation the user authorized access to.
type Tenant struct {
	ConnectionID string `json:"id"`
	TenantID     string `json:"tenantId"`
	TenantType   string `json:"tenantType"`
	TenantName   string `json:"tenantName"`
	AuthEventID  string `json:"authEventId"`
}

// tokenResponse is the raw token endpoint payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// tokenErrorResponse is the RFC 6749 §5.2 error payload.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
