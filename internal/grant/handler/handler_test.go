package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgerbridge/internal/grant/service"
	dErrors "ledgerbridge/pkg/domain-errors"
)

type fakeRefresher struct {
	report service.Report
	orgID  string
	err    error
}

func (f *fakeRefresher) RefreshExpiring(_ context.Context, orgID string) (service.Report, error) {
	f.orgID = orgID
	return f.report, f.err
}

func TestRefreshExpiring_ReturnsReport(t *testing.T) {
	refresher := &fakeRefresher{report: service.Report{Scanned: 4, Refreshed: 3, Failed: 1}}
	h := New(refresher, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/grants/refresh-expiring?org_id=org-a", nil)
	rec := httptest.NewRecorder()
	h.RefreshExpiring(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scanned":4,"refreshed":3,"failed":1}`, rec.Body.String())
	assert.Equal(t, "org-a", refresher.orgID)
}

func TestRefreshExpiring_DefaultsToAllOrgs(t *testing.T) {
	refresher := &fakeRefresher{}
	h := New(refresher, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/grants/refresh-expiring", nil)
	rec := httptest.NewRecorder()
	h.RefreshExpiring(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, refresher.orgID)
}

func TestRefreshExpiring_SweepFailure(t *testing.T) {
	refresher := &fakeRefresher{err: dErrors.New(dErrors.CodeInternal, "could not list refresh candidates")}
	h := New(refresher, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/grants/refresh-expiring", nil)
	rec := httptest.NewRecorder()
	h.RefreshExpiring(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
