package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bindingmodels "ledgerbridge/internal/binding/models"
	bindingstore "ledgerbridge/internal/binding/store"
	grantservice "ledgerbridge/internal/grant/service"
	grantstore "ledgerbridge/internal/grant/store"
	"ledgerbridge/internal/provider/xero"
	"ledgerbridge/internal/sync/models"
	dErrors "ledgerbridge/pkg/domain-errors"
	"ledgerbridge/pkg/secrets"
)

type fetchFixture struct {
	fetcher  *ResourceFetcher
	bindings *bindingstore.InMemory
	grantID  uuid.UUID
	requests []*http.Request
}

func newFetchFixture(t *testing.T) *fetchFixture {
	t.Helper()
	f := &fetchFixture{}

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r.Clone(context.Background()))
		switch r.URL.Path {
		case "/api.xro/2.0/Invoices/res-1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"Invoices":[{"InvoiceID":"res-1"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(api.Close)

	adapter, err := xero.New("client-id", "client-secret", "https://app.example.com/callback",
		xero.WithBaseURLs(api.URL, api.URL),
		xero.WithHTTPClient(api.Client()),
	)
	require.NoError(t, err)

	cipher, err := secrets.NewCipher("fetcher-test-encryption-secret")
	require.NoError(t, err)

	grants := grantstore.NewInMemory()
	tokens := grantservice.New(grants, adapter, cipher)
	g, err := tokens.CreateGrant(context.Background(), "org-a", &xero.TokenSet{
		AccessToken:  "live-access-token",
		RefreshToken: "live-refresh-token",
		ExpiresIn:    1800,
	})
	require.NoError(t, err)
	f.grantID = g.ID

	f.bindings = bindingstore.NewInMemory()
	f.fetcher = NewResourceFetcher(f.bindings, tokens)
	return f
}

func (f *fetchFixture) bind(t *testing.T, externalTenantID string) *bindingmodels.TenantBinding {
	t.Helper()
	now := time.Now().UTC()
	b := &bindingmodels.TenantBinding{
		ID:               uuid.New(),
		OrgID:            "org-a",
		Provider:         "xero",
		ExternalTenantID: externalTenantID,
		GrantID:          f.grantID,
		Status:           bindingmodels.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, f.bindings.Bind(context.Background(), b))
	return b
}

func invoiceJob(bindingID uuid.UUID) *models.Job {
	return &models.Job{
		ID:         ulid.Make().String(),
		BindingID:  bindingID,
		Entity:     models.EntityInvoice,
		ResourceID: "res-1",
	}
}

func TestFetch_AuthenticatedTenantScopedCall(t *testing.T) {
	f := newFetchFixture(t)
	b := f.bind(t, "ext-1")

	payload, err := f.fetcher.Fetch(context.Background(), invoiceJob(b.ID))
	require.NoError(t, err)
	assert.Contains(t, string(payload), "res-1")

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "Bearer live-access-token", req.Header.Get("Authorization"))
	assert.Equal(t, "ext-1", req.Header.Get("Xero-Tenant-Id"))
}

func TestFetch_RevokedBindingParks(t *testing.T) {
	f := newFetchFixture(t)
	b := f.bind(t, "ext-1")
	require.NoError(t, f.bindings.SetStatus(context.Background(), b.ID, bindingmodels.StatusRevoked, time.Now()))

	_, err := f.fetcher.Fetch(context.Background(), invoiceJob(b.ID))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNeedsReauth))
	assert.Empty(t, f.requests, "no provider call for a dead binding")
}

func TestFetch_UnknownBinding(t *testing.T) {
	f := newFetchFixture(t)

	_, err := f.fetcher.Fetch(context.Background(), invoiceJob(uuid.New()))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestFetch_UnknownEntityKind(t *testing.T) {
	f := newFetchFixture(t)
	b := f.bind(t, "ext-1")

	job := invoiceJob(b.ID)
	job.Entity = "banktransaction"
	_, err := f.fetcher.Fetch(context.Background(), job)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}

func TestFetch_ProviderErrorClassified(t *testing.T) {
	f := newFetchFixture(t)
	b := f.bind(t, "ext-1")

	job := invoiceJob(b.ID)
	job.ResourceID = "res-missing"
	_, err := f.fetcher.Fetch(context.Background(), job)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExternalAPI))
}
