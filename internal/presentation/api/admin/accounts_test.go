// SPDX-License-Identifier: AGPL-3.0-or-later
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

type fakeAccountStore struct {
	accounts map[string]models.Account
	getErr   error
	upsErr   error
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{accounts: map[string]models.Account{}}
}

func key(tenantID, accountID string) string { return tenantID + "/" + accountID }

func (f *fakeAccountStore) ListByTenant(ctx context.Context, tenantID string) ([]models.Account, error) {
	out := make([]models.Account, 0)
	for _, a := range f.accounts {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccountStore) Get(ctx context.Context, tenantID, accountID string) (*models.Account, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.accounts[key(tenantID, accountID)]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccountStore) Upsert(ctx context.Context, a models.Account) (string, error) {
	if f.upsErr != nil {
		return "", f.upsErr
	}
	f.accounts[key(a.TenantID, a.ID)] = a
	return "pk-" + a.ID, nil
}

func (f *fakeAccountStore) Delete(ctx context.Context, tenantID, accountID string) error {
	delete(f.accounts, key(tenantID, accountID))
	return nil
}

func accountsRouter(store AccountStore) *chi.Mux {
	h := NewAccountsHandler(store)
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}/accounts", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Route("/{accountID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Put("/", h.HandleUpsert)
			r.Delete("/", h.HandleDelete)
		})
	})
	return r
}

func TestAccountsHandler_HandleUpsert_NeverEchoesPassword(t *testing.T) {
	t.Parallel()

	store := newFakeAccountStore()
	r := accountsRouter(store)

	body := `{"host":"smtp.example.test","port":587,"password":"s3cr3t","limit_behavior":"defer"}`
	req := httptest.NewRequest(http.MethodPut, "/tenants/acme/accounts/main/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cr3t")

	stored, ok := store.accounts[key("acme", "main")]
	require.True(t, ok)
	assert.Equal(t, "s3cr3t", stored.Password, "password must still reach the store")
}

func TestAccountsHandler_HandleUpsert_InvalidLimitBehavior(t *testing.T) {
	t.Parallel()

	store := newFakeAccountStore()
	r := accountsRouter(store)

	body := `{"host":"smtp.example.test","port":587,"limit_behavior":"explode"}`
	req := httptest.NewRequest(http.MethodPut, "/tenants/acme/accounts/main/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	_, ok := store.accounts[key("acme", "main")]
	assert.False(t, ok, "invalid account must not reach the store")
}

func TestAccountsHandler_HandleGet_NotFound(t *testing.T) {
	t.Parallel()

	store := newFakeAccountStore()
	r := accountsRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/accounts/ghost/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccountsHandler_HandleList(t *testing.T) {
	t.Parallel()

	store := newFakeAccountStore()
	store.accounts[key("acme", "main")] = models.Account{TenantID: "acme", ID: "main", LimitBehavior: models.LimitBehaviorDefer}
	store.accounts[key("other", "main")] = models.Account{TenantID: "other", ID: "main", LimitBehavior: models.LimitBehaviorDefer}
	r := accountsRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/accounts/", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Data []models.Account `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Data, 1)
	assert.Equal(t, "acme", got.Data[0].TenantID)
}
