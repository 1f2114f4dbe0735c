package xero

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	dErrors "ledgerbridge/pkg/domain-errors"
)

// Client performs authenticated accounting-API calls scoped to one tenant.
// It injects the bearer token and the tenant-scoping header and classifies
// upstream failures into the domain error taxonomy:
//
//	401 -> CodeUnauthorized (token problem; caller refreshes and retries)
//	429 -> CodeRateLimited wrapping a RetryAfterError
//	5xx -> CodeUnavailable
//	other non-2xx -> CodeExternalAPI
type Client struct {
	adapter     *Adapter
	accessToken string
	tenantID    string
}

// TenantID returns the external tenant this client is scoped to.
func (c *Client) TenantID() string {
	return c.tenantID
}

// RetryAfterError carries the upstream rate-limit hint.
type RetryAfterError struct {
	RetryAfter time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Get fetches one API path (e.g. "/Invoices/<id>") and returns the response
// body. The caller owns interpretation of the payload.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if err := c.adapter.limiter.Wait(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limiter interrupted")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adapter.apiBaseURL+path, body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build api request")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Xero-Tenant-Id", c.tenantID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.adapter.httpClient.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "provider api unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyAPIError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeExternalAPI, "read api response")
	}
	return payload, nil
}

// classifyAPIError maps a non-2xx accounting-API response to the taxonomy.
// Response bodies are discarded, never propagated to callers.
func classifyAPIError(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return dErrors.New(dErrors.CodeUnauthorized, "access token rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimitError(resp)
	case resp.StatusCode >= 500:
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("provider api returned %d", resp.StatusCode))
	default:
		return dErrors.New(dErrors.CodeExternalAPI, fmt.Sprintf("provider api returned %d", resp.StatusCode))
	}
}

func rateLimitError(resp *http.Response) error {
	retryAfter := 60 * time.Second
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return dErrors.Wrap(&RetryAfterError{RetryAfter: retryAfter}, dErrors.CodeRateLimited, "provider rate limit hit")
}
