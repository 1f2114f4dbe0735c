package xero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	dErrors "ledgerbridge/pkg/domain-errors"
)

// maxErrorBodyBytes caps how much of an upstream error body is read for
// classification and server-side logging. Bodies never reach callers.
const maxErrorBodyBytes = 8 * 1024

// Adapter owns all direct interaction with the Xero identity and accounting
// APIs. It is constructed once per process and injected into services.
type Adapter struct {
	clientID     string
	clientSecret string
	redirectURI  string

	authorizeURL   string
	tokenURL       string
	revocationURL  string
	connectionsURL string
	apiBaseURL     string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithHTTPClient overrides the outbound HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithBaseURLs points the adapter at alternative endpoints, used by tests
// to target an httptest server.
func WithBaseURLs(identity, api string) Option {
	return func(a *Adapter) {
		a.authorizeURL = identity + "/identity/connect/authorize"
		a.tokenURL = identity + "/connect/token"
		a.revocationURL = identity + "/connect/revocation"
		a.connectionsURL = api + "/connections"
		a.apiBaseURL = api + "/api.xro/2.0"
	}
}

// WithRateLimit overrides the client-side outbound rate limit.
func WithRateLimit(l *rate.Limiter) Option {
	return func(a *Adapter) { a.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New constructs an Adapter. Credentials are required; their absence is a
// config error surfaced immediately rather than on first use.
func New(clientID, clientSecret, redirectURI string, opts ...Option) (*Adapter, error) {
	if clientID == "" || clientSecret == "" || redirectURI == "" {
		return nil, dErrors.New(dErrors.CodeConfig, "xero client credentials not configured")
	}

	a := &Adapter{
		clientID:       clientID,
		clientSecret:   clientSecret,
		redirectURI:    redirectURI,
		authorizeURL:   defaultAuthorizeURL,
		tokenURL:       defaultTokenURL,
		revocationURL:  defaultRevocationURL,
		connectionsURL: defaultConnectionsURL,
		apiBaseURL:     defaultAPIBaseURL,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if a.limiter == nil {
		// Xero allows 60 calls/min per tenant; stay comfortably under it.
		a.limiter = rate.NewLimiter(rate.Limit(0.8), 5)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a, nil
}

// AuthorizationURL builds the provider authorize redirect. The state is an
// opaque, unguessable token supplied by the caller; it round-trips through
// Xero unmodified.
func (a *Adapter) AuthorizationURL(state string, scopes []string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.clientID)
	q.Set("redirect_uri", a.redirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	return a.authorizeURL + "?" + q.Encode()
}

// ExchangeCode redeems a single-use authorization code for tokens. It never
// retries: a second attempt with the same code is guaranteed to fail and can
// void the first exchange upstream.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	if code == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", a.redirectURI)

	ts, err := a.postToken(ctx, form)
	if err != nil {
		// Exchange failures are terminal for the flow; the user restarts.
		if dErrors.HasCode(err, dErrors.CodeNeedsReauth) || dErrors.HasCode(err, dErrors.CodeExternalAPI) {
			return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "authorization code exchange failed")
		}
		return nil, err
	}

	ts.AuthEventID = authEventIDFromIDToken(ts.IDToken)
	return ts, nil
}

// RefreshTokens exchanges a refresh token for a new token pair. Terminal
// rejections (invalid_grant and kin) surface as CodeNeedsReauth so the owning
// grant can be marked refresh_failed; everything else is transient.
func (a *Adapter) RefreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, dErrors.New(dErrors.CodeNeedsReauth, "no refresh token on record")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return a.postToken(ctx, form)
}

// postToken performs one token endpoint call with HTTP Basic client auth.
func (a *Adapter) postToken(ctx context.Context, form url.Values) (*TokenSet, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limiter interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build token request")
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.classifyTokenError(resp)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalAPI, "malformed token response")
	}
	if body.AccessToken == "" {
		return nil, dErrors.New(dErrors.CodeExternalAPI, "token response missing access token")
	}

	return &TokenSet{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresIn:    body.ExpiresIn,
		TokenType:    body.TokenType,
		Scope:        body.Scope,
		IDToken:      body.IDToken,
	}, nil
}

// classifyTokenError separates terminal refresh-token rejections from
// transient upstream trouble. The raw body is logged server-side only.
func (a *Adapter) classifyTokenError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var body tokenErrorResponse
	_ = json.Unmarshal(raw, &body)

	a.logger.Warn("token endpoint error",
		"status", resp.StatusCode,
		"oauth_error", body.Error,
	)

	switch {
	case body.Error == "invalid_grant" || body.Error == "unauthorized_client" || body.Error == "invalid_client":
		return dErrors.New(dErrors.CodeNeedsReauth, "authorization no longer valid")
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitError(resp)
	case resp.StatusCode >= 500:
		return dErrors.New(dErrors.CodeUnavailable, "token endpoint unavailable")
	default:
		return dErrors.New(dErrors.CodeExternalAPI, fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}
}

// ListTenants returns the accounting organisations reachable with the access
// token, used at connection time and whenever the UI shows "pick one of N".
func (a *Adapter) ListTenants(ctx context.Context, accessToken string) ([]Tenant, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limiter interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.connectionsURL, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build connections request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "connections endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyAPIError(resp)
	}

	var tenants []Tenant
	if err := json.NewDecoder(resp.Body).Decode(&tenants); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalAPI, "malformed connections response")
	}
	return tenants, nil
}

// RevokeToken revokes a refresh token upstream. Best-effort by contract:
// the error is returned for logging but local state must transition to
// revoked regardless of the outcome.
func (a *Adapter) RevokeToken(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}

	form := url.Values{}
	form.Set("token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build revocation request")
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "revocation endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return dErrors.New(dErrors.CodeExternalAPI, fmt.Sprintf("revocation endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// Client returns an authenticated accounting-API client bound to one tenant.
func (a *Adapter) Client(accessToken, tenantID string) *Client {
	return &Client{
		adapter:     a,
		accessToken: accessToken,
		tenantID:    tenantID,
	}
}

// authEventIDFromIDToken extracts the authentication event id claim from an
// id_token. The token was just received over TLS from the identity host, so
// claims are read without signature verification; an unparseable token only
// costs the correlation id.
func authEventIDFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	eventID, _ := claims["authentication_event_id"].(string)
	return eventID
}
