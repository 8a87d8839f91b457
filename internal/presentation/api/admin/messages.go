// SPDX-License-Identifier: AGPL-3.0-or-later
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/database"
	"github.com/btouchard/mailrelay/internal/presentation/api/shared"
)

// MessageStore is the subset of database.Store message handlers depend on.
type MessageStore interface {
	GetMessage(ctx context.Context, tenantID, messageID string) (*models.Message, error)
	ListMessages(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, int, error)
	InsertMessages(ctx context.Context, batch []models.Message) ([]database.InsertResult, error)
}

type MessagesHandler struct {
	messages MessageStore
}

func NewMessagesHandler(messages MessageStore) *MessagesHandler {
	return &MessagesHandler{messages: messages}
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// HandleList handles GET /admin/tenants/{tenantID}/messages?limit=&offset=.
func (h *MessagesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	messages, total, err := h.messages.ListMessages(r.Context(), tenantID, limit, offset)
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// HandleGet handles GET /admin/tenants/{tenantID}/messages/{messageID}.
func (h *MessagesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.messages.GetMessage(r.Context(), tenantID, messageID)
	if errors.Is(err, models.ErrMessageNotFound) {
		shared.WriteNotFound(w, "message")
		return
	}
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusOK, msg)
}

// insertRequest is the submit_messages body: a batch of messages for
// one tenant (spec.md §4.1/§6 "submit_messages(tenant, batch)").
type insertRequest struct {
	Messages []models.Message `json:"messages"`
}

// HandleCreate handles POST /admin/tenants/{tenantID}/messages, the
// submit_messages operation (spec.md §4.1).
func (h *MessagesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, http.StatusBadRequest, shared.ErrCodeBadRequest, "invalid request body", nil)
		return
	}
	if len(req.Messages) == 0 {
		shared.WriteValidationError(w, "messages must be non-empty", nil)
		return
	}
	for i := range req.Messages {
		req.Messages[i].TenantID = tenantID
		if err := req.Messages[i].Validate(); err != nil {
			shared.WriteValidationError(w, err.Error(), nil)
			return
		}
	}

	results, err := h.messages.InsertMessages(r.Context(), req.Messages)
	if err != nil {
		shared.WriteInternalError(w)
		return
	}
	shared.WriteJSON(w, http.StatusAccepted, map[string]any{"results": results})
}
