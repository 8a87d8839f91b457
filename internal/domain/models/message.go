// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"encoding/json"
	"time"
)

// Priority levels: lower values are dispatched first, regardless of
// created_at ordering.
const (
	PriorityImmediate = 0
	PriorityHigh      = 1
	PriorityDefault   = 2
	PriorityLow       = 3
)

// ValidPriority reports whether p is one of the four defined levels.
func ValidPriority(p int) bool {
	return p >= PriorityImmediate && p <= PriorityLow
}

// Attachment is a reference to content fetched lazily by
// internal/infrastructure/attachment at dispatch time.
type Attachment struct {
	Filename    string            `json:"filename"`
	StoragePath string            `json:"storage_path"`
	FetchMode   string            `json:"fetch_mode,omitempty"`
	ContentMD5  string            `json:"content_md5,omitempty"`
	Auth        map[string]string `json:"auth,omitempty"`
}

// Payload is the opaque mail envelope carried by a Message.
type Payload struct {
	From        string            `json:"from"`
	To          []string          `json:"to"`
	Cc          []string          `json:"cc,omitempty"`
	Bcc         []string          `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	ContentType string            `json:"content_type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Message is one unit of outbound mail, owned by a Tenant and dispatched
// through one Account. PK is the internal identifier; ID is the
// client-facing identifier, unique per tenant.
//
// A Message with a non-null SMTPTS is terminal for the dispatcher: it is
// never returned by fetch_ready again and is never resent.
type Message struct {
	PK        string `json:"-"`
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`

	Priority int     `json:"priority"`
	Payload  Payload `json:"payload"`

	CreatedAt  time.Time  `json:"created_at"`
	DeferredTS *time.Time `json:"deferred_ts,omitempty"`
	SMTPTS     *time.Time `json:"smtp_ts,omitempty"`

	// ReportedTS is legacy: events now carry the authoritative reported_ts
	// per spec.md §9. The messages table has no reported_ts column and
	// the repositories never set this field.
	ReportedTS *time.Time `json:"reported_ts,omitempty"`
}

// Terminal reports whether the message has reached sent or error state.
func (m Message) Terminal() bool {
	return m.SMTPTS != nil
}

// Validate checks the fields a submitter controls: identity, priority,
// and a minimally-sane payload (spec.md §4.1 submit_messages).
func (m Message) Validate() error {
	if m.ID == "" || m.TenantID == "" || m.AccountID == "" {
		return ErrInvalidPayload
	}
	if !ValidPriority(m.Priority) {
		return ErrInvalidPriority
	}
	if m.Payload.From == "" || len(m.Payload.To) == 0 {
		return ErrInvalidPayload
	}
	return nil
}

// MarshalPayload serializes the Payload for storage in a jsonb column.
func MarshalPayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload parses a jsonb column back into a Payload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if len(data) == 0 {
		return p, nil
	}
	err := json.Unmarshal(data, &p)
	return p, err
}
