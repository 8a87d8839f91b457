// SPDX-License-Identifier: AGPL-3.0-or-later
package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/supervisor"
)

type fakeSupervisorCommands struct {
	suspended []scopeRequest
	activated []scopeRequest
	runNow    []string
	status    supervisor.Status
}

func (f *fakeSupervisorCommands) Suspend(tenantID, accountID string) {
	f.suspended = append(f.suspended, scopeRequest{TenantID: tenantID, AccountID: accountID})
}

func (f *fakeSupervisorCommands) Activate(tenantID, accountID string) {
	f.activated = append(f.activated, scopeRequest{TenantID: tenantID, AccountID: accountID})
}

func (f *fakeSupervisorCommands) RunNow(tenantID string) {
	f.runNow = append(f.runNow, tenantID)
}

func (f *fakeSupervisorCommands) Status() supervisor.Status {
	return f.status
}

func commandsRouter(sup SupervisorCommands) *chi.Mux {
	h := NewCommandsHandler(sup)
	r := chi.NewRouter()
	r.Post("/commands/suspend", h.HandleSuspend)
	r.Post("/commands/activate", h.HandleActivate)
	r.Post("/commands/run-now", h.HandleRunNow)
	r.Get("/status", h.HandleStatus)
	return r
}

func TestCommandsHandler_HandleSuspend_JSONBody(t *testing.T) {
	t.Parallel()

	fake := &fakeSupervisorCommands{}
	r := commandsRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/commands/suspend", strings.NewReader(`{"tenant_id":"acme","account_id":"main"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.suspended, 1)
	assert.Equal(t, "acme", fake.suspended[0].TenantID)
	assert.Equal(t, "main", fake.suspended[0].AccountID)
}

func TestCommandsHandler_HandleRunNow_QueryParamFallback(t *testing.T) {
	t.Parallel()

	fake := &fakeSupervisorCommands{}
	r := commandsRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/commands/run-now?tenant_id=acme", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.runNow, 1)
	assert.Equal(t, "acme", fake.runNow[0])
}

func TestCommandsHandler_HandleRunNow_EmptyScopeWakesEveryTenant(t *testing.T) {
	t.Parallel()

	fake := &fakeSupervisorCommands{}
	r := commandsRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/commands/run-now", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.runNow, 1)
	assert.Equal(t, "", fake.runNow[0])
}

func TestCommandsHandler_HandleStatus(t *testing.T) {
	t.Parallel()

	fake := &fakeSupervisorCommands{status: supervisor.Status{
		Suspended: []supervisor.SuspendedScope{{TenantID: "acme", AccountID: "main"}},
	}}
	r := commandsRouter(fake)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acme")
}

func TestCommandsHandler_HandleActivate_InvalidBody(t *testing.T) {
	t.Parallel()

	fake := &fakeSupervisorCommands{}
	r := commandsRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/commands/activate", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fake.activated)
}
