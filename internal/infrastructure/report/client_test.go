// SPDX-License-Identifier: AGPL-3.0-or-later
package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

func TestClient_Sync_Success(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody syncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(SyncResponse{Sent: []string{"m1"}})
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	tenant := models.Tenant{ID: "t1", ClientBaseURL: srv.URL, ClientAuth: models.ClientAuth{Method: models.AuthMethodBearer, Token: "secret"}}

	resp, err := client.Sync(context.Background(), tenant, []Record{{Type: "sent", ID: "m1"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, resp.Sent)
	assert.Equal(t, "Bearer secret", gotAuth)
	require.Len(t, gotBody.Reports, 1)
}

func TestClient_Sync_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	tenant := models.Tenant{ID: "t1", ClientBaseURL: srv.URL}

	_, err := client.Sync(context.Background(), tenant, nil)

	assert.Error(t, err)
}

func TestClient_Sync_BasicAuth(t *testing.T) {
	t.Parallel()

	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(SyncResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	tenant := models.Tenant{ID: "t1", ClientBaseURL: srv.URL, ClientAuth: models.ClientAuth{Method: models.AuthMethodBasic, User: "bob", Password: "hunter2"}}

	_, err := client.Sync(context.Background(), tenant, nil)

	require.NoError(t, err)
	assert.Equal(t, "bob", gotUser)
	assert.Equal(t, "hunter2", gotPass)
}

func TestClient_Sync_DefaultSyncPath(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(SyncResponse{})
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	tenant := models.Tenant{ID: "t1", ClientBaseURL: srv.URL}

	_, err := client.Sync(context.Background(), tenant, nil)

	require.NoError(t, err)
	assert.Equal(t, "/proxy_sync", gotPath)
}
