// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"database/sql"
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/google/uuid"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// EventRepository persists the append-only MessageEvent log.
type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Add appends one event row within tx, returning the generated event id.
func (r *EventRepository) Add(ctx context.Context, tx *sql.Tx, messagePK string, eventType models.EventType, ts time.Time, description string, metadata []byte) (string, error) {
	id := uuid.NewString()
	q := `
		INSERT INTO message_events (event_id, message_pk, event_type, event_ts, description, metadata)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	exec := tx.ExecContext
	_, err := exec(ctx, q, id, messagePK, string(eventType), ts, nullIfEmpty(description), nullIfEmptyBytes(metadata))
	if err != nil {
		return "", fmt.Errorf("add %s event for message %s: %w", eventType, messagePK, err)
	}
	return id, nil
}

// FetchUnreported returns events with reported_ts IS NULL, joined to
// messages so callers get tenant_id/account_id/client
// message id without a second round-trip (spec.md §4.1).
func (r *EventRepository) FetchUnreported(ctx context.Context, limit int) ([]models.MessageEvent, error) {
	q := `
		SELECT e.event_id, e.message_pk, m.client_message_id, m.tenant_id, m.account_id,
		       e.event_type, e.event_ts, COALESCE(e.description, ''), e.metadata, e.reported_ts
		FROM message_events e
		JOIN messages m ON m.pk = e.message_pk
		WHERE e.reported_ts IS NULL
		ORDER BY e.event_ts ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unreported events: %w", err)
	}
	defer rows.Close()

	var out []models.MessageEvent
	for rows.Next() {
		var e models.MessageEvent
		var eventType string
		var metadata []byte
		if err := rows.Scan(&e.EventID, &e.MessagePK, &e.MessageID, &e.TenantID, &e.AccountID,
			&eventType, &e.EventTS, &e.Description, &metadata, &e.ReportedTS); err != nil {
			return nil, fmt.Errorf("scan unreported event: %w", err)
		}
		e.EventType = models.EventType(eventType)
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkReported sets reported_ts = ts on the listed events.
func (r *EventRepository) MarkReported(ctx context.Context, ids []string, ts time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE message_events SET reported_ts = $1 WHERE event_id = ANY($2)`,
		ts, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("mark %d events reported: %w", len(ids), err)
	}
	return nil
}

func nullIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
