// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"encoding/json"
	"time"
)

// EventType enumerates the append-only state-changing occurrences
// recorded against a Message.
type EventType string

const (
	EventSent          EventType = "sent"
	EventError         EventType = "error"
	EventDeferred      EventType = "deferred"
	EventBounce        EventType = "bounce"
	EventPECAcceptance EventType = "pec_acceptance"
	EventPECDelivery   EventType = "pec_delivery"
	EventPECFailure    EventType = "pec_failure"
)

// Terminal reports whether this event type represents one of the two
// dispatch outcomes that close out a Message.
func (t EventType) Terminal() bool {
	return t == EventSent || t == EventError
}

// MessageEvent is an append-only record of a state-changing occurrence
// for a Message. Dispatch and external ingesters (bounce, PEC) both
// append to this log; message.SMTPTS/DeferredTS are materialized
// shortcuts maintained in the same transaction as the event insert.
type MessageEvent struct {
	EventID     string          `json:"event_id"`
	MessagePK   string          `json:"-"`
	MessageID   string          `json:"message_id"`
	TenantID    string          `json:"tenant_id"`
	AccountID   string          `json:"account_id"`
	EventType   EventType       `json:"event_type"`
	EventTS     time.Time       `json:"event_ts"`
	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	ReportedTS  *time.Time      `json:"reported_ts,omitempty"`
}

// Reported reports whether this event has already been acknowledged by
// the owning tenant's sync endpoint.
func (e MessageEvent) Reported() bool {
	return e.ReportedTS != nil
}
