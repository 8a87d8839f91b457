// SPDX-License-Identifier: AGPL-3.0-or-later

// Package admin implements the admin API's CRUD and command handlers,
// spec.md §6: "CRUD for tenants/accounts/messages; commands run-now,
// suspend, activate, list-tenants-sync-status; /status, /health,
// /metrics". Grounded on the teacher's
// internal/presentation/api/admin.Handler (URL param extraction,
// decode/validate/respond shape, shared.WriteJSON/WriteError).
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// TenantStore is the subset of database.Store tenant handlers depend on.
type TenantStore interface {
	List(ctx context.Context) ([]models.Tenant, error)
	Get(ctx context.Context, id string) (*models.Tenant, error)
	Upsert(ctx context.Context, t models.Tenant) error
	Delete(ctx context.Context, id string) error
}

type TenantsHandler struct {
	tenants TenantStore
}

func NewTenantsHandler(tenants TenantStore) *TenantsHandler {
	return &TenantsHandler{tenants: tenants}
}

// HandleList handles GET /admin/tenants.
func (h *TenantsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.tenants.List(r.Context())
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, tenants)
}

// HandleGet handles GET /admin/tenants/{tenantID}.
func (h *TenantsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	tenant, err := h.tenants.Get(r.Context(), tenantID)
	if errors.Is(err, models.ErrTenantNotFound) {
		shared.WriteNotFound(w, "tenant")
		return
	}
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, tenant)
}

// HandleUpsert handles PUT /admin/tenants/{tenantID}.
func (h *TenantsHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var t models.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}
	t.ID = tenantID

	if err := h.tenants.Upsert(r.Context(), t); err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, t)
}

// HandleDelete handles DELETE /admin/tenants/{tenantID}.
func (h *TenantsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	err := h.tenants.Delete(r.Context(), tenantID)
	switch {
	case errors.Is(err, models.ErrTenantHasAccounts), errors.Is(err, models.ErrTenantHasMessages):
		shared.WriteConflict(w, err.Error())
	case err != nil:
		shared.WriteInternalError(w)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
