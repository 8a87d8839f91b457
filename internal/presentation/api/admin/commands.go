// SPDX-License-Identifier: AGPL-3.0-or-later
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
	"github.com/btouchard/mailrelay/internal/supervisor"
)

// SupervisorCommands is the subset of supervisor.Supervisor the command
// handlers depend on (spec.md §4.7/§6: run_now, suspend, activate,
// list-tenants-sync-status, /status).
type SupervisorCommands interface {
	Suspend(tenantID, accountID string)
	Activate(tenantID, accountID string)
	RunNow(tenantID string)
	Status() supervisor.Status
}

// scopeRequest names the (tenant, account) scope a suspend/activate/
// run_now command applies to. Either field may be empty to widen the
// match (spec.md §4.7: tenant and batch_code/account_id are both
// optional).
type scopeRequest struct {
	TenantID  string `json:"tenant_id,omitempty"`
	AccountID string `json:"account_id,omitempty"`
}

type CommandsHandler struct {
	supervisor SupervisorCommands
}

func NewCommandsHandler(supervisor SupervisorCommands) *CommandsHandler {
	return &CommandsHandler{supervisor: supervisor}
}

func decodeScope(r *http.Request) (scopeRequest, error) {
	var req scopeRequest
	if r.ContentLength == 0 {
		req.TenantID = r.URL.Query().Get("tenant_id")
		req.AccountID = r.URL.Query().Get("account_id")
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	return req, err
}

// HandleSuspend handles POST /admin/commands/suspend.
func (h *CommandsHandler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScope(r)
	if err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}
	h.supervisor.Suspend(req.TenantID, req.AccountID)
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// HandleActivate handles POST /admin/commands/activate.
func (h *CommandsHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScope(r)
	if err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}
	h.supervisor.Activate(req.TenantID, req.AccountID)
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

// HandleRunNow handles POST /admin/commands/run-now. An empty
// tenant_id wakes dispatch and resets DND for every tenant.
func (h *CommandsHandler) HandleRunNow(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScope(r)
	if err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}
	h.supervisor.RunNow(req.TenantID)
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// HandleStatus handles GET /admin/status and GET
// /admin/list-tenants-sync-status: both surface supervisor.Status(),
// which already carries suspension scopes and per-tenant last_sync.
func (h *CommandsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	shared.WriteJSON(w, http.StatusOK, h.supervisor.Status())
}
