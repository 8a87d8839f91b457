// SPDX-License-Identifier: AGPL-3.0-or-later
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

// AccountStore is the subset of database.Store account handlers depend on.
type AccountStore interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.Account, error)
	Get(ctx context.Context, tenantID, accountID string) (*models.Account, error)
	Upsert(ctx context.Context, a models.Account) (string, error)
	Delete(ctx context.Context, tenantID, accountID string) error
}

type AccountsHandler struct {
	accounts AccountStore
}

func NewAccountsHandler(accounts AccountStore) *AccountsHandler {
	return &AccountsHandler{accounts: accounts}
}

// HandleList handles GET /admin/tenants/{tenantID}/accounts.
func (h *AccountsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	accounts, err := h.accounts.ListByTenant(r.Context(), tenantID)
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, accounts)
}

// HandleGet handles GET /admin/tenants/{tenantID}/accounts/{accountID}.
func (h *AccountsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	accountID := chi.URLParam(r, "accountID")

	account, err := h.accounts.Get(r.Context(), tenantID, accountID)
	if errors.Is(err, models.ErrAccountNotFound) {
		shared.WriteNotFound(w, "account")
		return
	}
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, account)
}

// accountRequest carries the fields a caller may set, since
// models.Account.Password is json:"-" (never round-tripped through
// Get/List responses).
type accountRequest struct {
	Host           string               `json:"host"`
	Port           int                  `json:"port"`
	User           string               `json:"user,omitempty"`
	Password       string               `json:"password,omitempty"`
	UseTLS         bool                 `json:"use_tls"`
	TTLSeconds     int                  `json:"ttl_seconds"`
	BatchSize      int                  `json:"batch_size,omitempty"`
	LimitPerMinute int                  `json:"limit_per_minute,omitempty"`
	LimitPerHour   int                  `json:"limit_per_hour,omitempty"`
	LimitPerDay    int                  `json:"limit_per_day,omitempty"`
	LimitBehavior  models.LimitBehavior `json:"limit_behavior"`
}

// HandleUpsert handles PUT /admin/tenants/{tenantID}/accounts/{accountID}.
func (h *AccountsHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	accountID := chi.URLParam(r, "accountID")

	var req accountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}

	a := models.Account{
		TenantID:       tenantID,
		ID:             accountID,
		Host:           req.Host,
		Port:           req.Port,
		User:           req.User,
		Password:       req.Password,
		UseTLS:         req.UseTLS,
		TTLSeconds:     req.TTLSeconds,
		BatchSize:      req.BatchSize,
		LimitPerMinute: req.LimitPerMinute,
		LimitPerHour:   req.LimitPerHour,
		LimitPerDay:    req.LimitPerDay,
		LimitBehavior:  req.LimitBehavior,
	}

	if err := a.Validate(); err != nil {
		shared.WriteValidationError(w, err.Error(), nil)
		return
	}

	if _, err := h.accounts.Upsert(r.Context(), a); err != nil {
		shared.WriteInternalError(w)
		return
	}
	a.Password = ""
	shared.WriteJSON(w, http.StatusOK, a)
}

// HandleDelete handles DELETE /admin/tenants/{tenantID}/accounts/{accountID}.
func (h *AccountsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	accountID := chi.URLParam(r, "accountID")

	if err := h.accounts.Delete(r.Context(), tenantID, accountID); err != nil {
		shared.WriteInternalError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
