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
	"github.com/btouchard/mailrelay/internal/infrastructure/database"
)

type fakeMessageStore struct {
	byID     map[string]models.Message
	inserted []models.Message
	getErr   error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{byID: map[string]models.Message{}}
}

func (f *fakeMessageStore) GetMessage(ctx context.Context, tenantID, messageID string) (*models.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	m, ok := f.byID[tenantID+"/"+messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	return &m, nil
}

func (f *fakeMessageStore) ListMessages(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, int, error) {
	out := make([]models.Message, 0)
	for _, m := range f.byID {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	return out, len(out), nil
}

func (f *fakeMessageStore) InsertMessages(ctx context.Context, batch []models.Message) ([]database.InsertResult, error) {
	results := make([]database.InsertResult, 0, len(batch))
	for _, m := range batch {
		f.inserted = append(f.inserted, m)
		f.byID[m.TenantID+"/"+m.ID] = m
		results = append(results, database.InsertResult{ID: m.ID, PK: "pk-" + m.ID, Inserted: true})
	}
	return results, nil
}

func messagesRouter(store MessageStore) *chi.Mux {
	h := NewMessagesHandler(store)
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}/messages", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{messageID}", h.HandleGet)
	})
	return r
}

func TestMessagesHandler_HandleCreate(t *testing.T) {
	t.Parallel()

	store := newFakeMessageStore()
	r := messagesRouter(store)

	body := `{"messages":[{"id":"m1","account_id":"main","priority":2,"payload":{"from":"a@example.test","to":["b@example.test"],"subject":"hi","body":"hello"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/tenants/acme/messages/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "acme", store.inserted[0].TenantID, "tenant id must come from the URL, not the body")
}

func TestMessagesHandler_HandleCreate_RejectsInvalidBatch(t *testing.T) {
	t.Parallel()

	store := newFakeMessageStore()
	r := messagesRouter(store)

	body := `{"messages":[{"id":"m1","account_id":"main","priority":99,"payload":{"from":"a@example.test","to":["b@example.test"]}}]}`
	req := httptest.NewRequest(http.MethodPost, "/tenants/acme/messages/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.inserted)
}

func TestMessagesHandler_HandleCreate_RejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	store := newFakeMessageStore()
	r := messagesRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/tenants/acme/messages/", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesHandler_HandleGet(t *testing.T) {
	t.Parallel()

	store := newFakeMessageStore()
	store.byID["acme/m1"] = models.Message{ID: "m1", TenantID: "acme", AccountID: "main"}
	r := messagesRouter(store)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/acme/messages/m1", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var got struct {
			Data models.Message `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "m1", got.Data.ID)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tenants/acme/messages/ghost", nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMessagesHandler_HandleList_LimitClamped(t *testing.T) {
	t.Parallel()

	store := newFakeMessageStore()
	r := messagesRouter(store)

	req := httptest.NewRequest(http.MethodGet, "/tenants/acme/messages/?limit=99999", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Data struct {
			Limit int `json:"limit"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, maxListLimit, got.Data.Limit)
}
