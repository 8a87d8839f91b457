// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report implements the ReportSynchronizer, spec.md §4.6:
// per-tenant batching of unreported MessageEvents into payload records,
// starvation-prevention across all active tenants, DND honored via
// next_sync_after, and run_now(tenant?) resetting last_sync. Grounded
// on the teacher's internal/infrastructure/webhook.Worker
// (processBatch/processOne, HTTP POST, mark-delivered/mark-failed),
// regrouped from per-delivery-row batching to per-tenant batching.
package report

import (
	"encoding/json"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// Record is one payload entry projected from a MessageEvent, shaped per
// spec.md §4.6 step 2. Type discriminates which of the optional fields
// are populated.
type Record struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	AccountID string `json:"account_id,omitempty"`

	SentTS int64 `json:"sent_ts,omitempty"`

	ErrorTS int64  `json:"error_ts,omitempty"`
	Error   string `json:"error,omitempty"`

	DeferredTS     int64  `json:"deferred_ts,omitempty"`
	DeferredReason string `json:"deferred_reason,omitempty"`

	BounceTS     int64  `json:"bounce_ts,omitempty"`
	BounceType   string `json:"bounce_type,omitempty"`
	BounceCode   string `json:"bounce_code,omitempty"`
	BounceReason string `json:"bounce_reason,omitempty"`

	PECEvent   string          `json:"pec_event,omitempty"`
	PECTS      int64           `json:"pec_ts,omitempty"`
	PECDetails json.RawMessage `json:"pec_details,omitempty"`
}

// metadataFields is the subset of a bounce/PEC event's metadata object
// this package reads; unknown keys are ignored.
type metadataFields struct {
	BounceType   string `json:"bounce_type"`
	BounceCode   string `json:"bounce_code"`
	BounceReason string `json:"bounce_reason"`
}

// ProjectRecord builds the wire record for one event, spec.md §4.6 step 2.
func ProjectRecord(e models.MessageEvent) Record {
	r := Record{Type: string(e.EventType), ID: e.MessageID, AccountID: e.AccountID}

	switch e.EventType {
	case models.EventSent:
		r.SentTS = e.EventTS.Unix()
	case models.EventError:
		r.ErrorTS = e.EventTS.Unix()
		r.Error = e.Description
	case models.EventDeferred:
		r.DeferredTS = e.EventTS.Unix()
		r.DeferredReason = e.Description
	case models.EventBounce:
		r.BounceTS = e.EventTS.Unix()
		r.BounceReason = e.Description
		var meta metadataFields
		if len(e.Metadata) > 0 {
			_ = json.Unmarshal(e.Metadata, &meta)
		}
		r.BounceType = meta.BounceType
		r.BounceCode = meta.BounceCode
	case models.EventPECAcceptance, models.EventPECDelivery, models.EventPECFailure:
		r.PECEvent = string(e.EventType)
		r.PECTS = e.EventTS.Unix()
		r.PECDetails = e.Metadata
	}
	return r
}

// timeFromEpoch converts epoch seconds to a UTC time.Time.
func timeFromEpoch(epoch int64) time.Time {
	return time.Unix(epoch, 0).UTC()
}
