// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// MessageRepository persists Message rows. All mutating operations are
// expected to run inside a transaction shared with EventRepository so
// that the message-state change and its describing event are written
// atomically (spec.md §3 invariant: "Events produced by the dispatcher
// are created in the same atomic action as the Message state change").
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// InsertResult reports, per input message id, the pk it was assigned
// (new insert, Inserted true) or the existing row's pk when a pending
// row with that id was updated in place (Inserted false). Ids whose row
// is already terminal get no InsertResult.
type InsertResult struct {
	ID        string
	PK        string
	Inserted  bool
}

// Insert upserts a batch of messages by (tenant_id, id). A row whose
// smtp_ts is already set is preserved untouched and excluded from the
// "inserted" set (duplicate-suppression invariant, spec.md §4.1).
func (r *MessageRepository) Insert(ctx context.Context, tx *sql.Tx, batch []models.Message) ([]InsertResult, error) {
	q := `
		INSERT INTO messages (pk, tenant_id, account_id, client_message_id, priority, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, client_message_id) DO UPDATE SET
			account_id = CASE WHEN messages.smtp_ts IS NULL THEN EXCLUDED.account_id ELSE messages.account_id END,
			priority   = CASE WHEN messages.smtp_ts IS NULL THEN EXCLUDED.priority ELSE messages.priority END,
			payload    = CASE WHEN messages.smtp_ts IS NULL THEN EXCLUDED.payload ELSE messages.payload END
		RETURNING pk, (xmax = 0) AS inserted, smtp_ts
	`
	exec := queryRowExecer(tx, r.db)

	results := make([]InsertResult, 0, len(batch))
	for _, m := range batch {
		pk := m.PK
		if pk == "" {
			pk = uuid.NewString()
		}
		payload, err := models.MarshalPayload(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for message %s: %w", m.ID, err)
		}
		createdAt := m.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		var returnedPK string
		var inserted bool
		var smtpTS sql.NullTime
		err = exec(ctx, q, pk, m.TenantID, m.AccountID, m.ID, m.Priority, payload, createdAt).Scan(&returnedPK, &inserted, &smtpTS)
		if err != nil {
			return nil, fmt.Errorf("insert message %s: %w", m.ID, err)
		}
		if smtpTS.Valid && !inserted {
			// already terminal: duplicate-suppressed, excluded per spec.
			continue
		}
		results = append(results, InsertResult{ID: m.ID, PK: returnedPK, Inserted: inserted})
	}
	return results, nil
}

// FetchReady returns messages with smtp_ts IS NULL AND (deferred_ts IS
// NULL OR deferred_ts <= now), ordered by priority ASC, created_at ASC,
// selecting with FOR UPDATE OF m SKIP LOCKED (spec.md §4.1, §5). The
// query runs outside a transaction, so those row locks last only for
// the statement: they do not stop another fetch from returning the same
// rows while this tick is still sending them.
//
// The join against accounts constrains BOTH tenant_id and account_id so
// that two tenants sharing the same account_id value never cause a
// message row to be returned more than once (spec.md §9, scenario S6).
func (r *MessageRepository) FetchReady(ctx context.Context, limit int, now time.Time) ([]models.Message, error) {
	q := `
		SELECT m.pk, m.client_message_id, m.tenant_id, m.account_id, m.priority, m.payload,
		       m.created_at, m.deferred_ts, m.smtp_ts
		FROM messages m
		JOIN accounts a ON a.tenant_id = m.tenant_id AND a.account_id = m.account_id
		WHERE m.smtp_ts IS NULL
		  AND (m.deferred_ts IS NULL OR m.deferred_ts <= $1)
		ORDER BY m.priority ASC, m.created_at ASC
		LIMIT $2
		FOR UPDATE OF m SKIP LOCKED
	`
	rows, err := r.db.QueryContext(ctx, q, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ready messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var payload []byte
		if err := rows.Scan(&m.PK, &m.ID, &m.TenantID, &m.AccountID, &m.Priority, &payload,
			&m.CreatedAt, &m.DeferredTS, &m.SMTPTS); err != nil {
			return nil, fmt.Errorf("scan ready message: %w", err)
		}
		p, err := models.UnmarshalPayload(payload)
		if err != nil {
			return nil, fmt.Errorf("unmarshal payload for message %s: %w", m.ID, err)
		}
		m.Payload = p
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetByID returns one message by its client-facing (tenant_id, id)
// pair, for the admin API's message detail endpoint.
func (r *MessageRepository) GetByID(ctx context.Context, tenantID, messageID string) (*models.Message, error) {
	q := `
		SELECT pk, tenant_id, account_id, client_message_id, priority, payload, created_at, deferred_ts, smtp_ts
		FROM messages WHERE tenant_id = $1 AND client_message_id = $2
	`
	var m models.Message
	var payload []byte
	err := r.db.QueryRowContext(ctx, q, tenantID, messageID).Scan(
		&m.PK, &m.TenantID, &m.AccountID, &m.ID, &m.Priority, &payload, &m.CreatedAt, &m.DeferredTS, &m.SMTPTS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %s/%s: %w", tenantID, messageID, err)
	}
	p, err := models.UnmarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload for message %s: %w", messageID, err)
	}
	m.Payload = p
	return &m, nil
}

// ListByTenant returns a page of tenantID's messages ordered newest
// first, plus the total row count, for the admin API's message listing
// endpoint.
func (r *MessageRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages for tenant %s: %w", tenantID, err)
	}

	q := `
		SELECT pk, tenant_id, account_id, client_message_id, priority, payload, created_at, deferred_ts, smtp_ts
		FROM messages WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, q, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var payload []byte
		if err := rows.Scan(&m.PK, &m.TenantID, &m.AccountID, &m.ID, &m.Priority, &payload, &m.CreatedAt, &m.DeferredTS, &m.SMTPTS); err != nil {
			return nil, 0, fmt.Errorf("scan message row: %w", err)
		}
		p, err := models.UnmarshalPayload(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("unmarshal payload for message %s: %w", m.ID, err)
		}
		m.Payload = p
		out = append(out, m)
	}
	return out, total, rows.Err()
}

// SetDeferred sets deferred_ts = until within tx (used by Store.SetDeferred,
// which also appends the describing "deferred" event in the same tx).
func (r *MessageRepository) SetDeferred(ctx context.Context, tx *sql.Tx, pk string, until time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET deferred_ts = $1 WHERE pk = $2`, until, pk)
	if err != nil {
		return fmt.Errorf("set deferred for message %s: %w", pk, err)
	}
	return nil
}

// SetSMTPTS marks a message terminal within tx (used by Store.MarkSent /
// Store.MarkError, which also append the terminal event in the same tx).
func (r *MessageRepository) SetSMTPTS(ctx context.Context, tx *sql.Tx, pk string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE messages SET smtp_ts = $1 WHERE pk = $2`, ts, pk)
	if err != nil {
		return fmt.Errorf("set smtp_ts for message %s: %w", pk, err)
	}
	return nil
}

// CountDeferrals returns how many "deferred" events exist for pk,
// the attempt-count source the DispatchLoop uses to index the retry
// delay table (spec.md §4.5.e: "attempt is derived from count of prior
// deferred events for this message").
func (r *MessageRepository) CountDeferrals(ctx context.Context, pk string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message_events WHERE message_pk = $1 AND event_type = 'deferred'`, pk,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deferrals for message %s: %w", pk, err)
	}
	return n, nil
}

// RemoveFullyReportedBefore deletes messages whose every event has
// reported_ts <= ts and whose smtp_ts <= ts (spec.md §4.1 retention).
// Cascades to message_events (Message owns its Events, spec.md §3).
func (r *MessageRepository) RemoveFullyReportedBefore(ctx context.Context, ts time.Time) (int, error) {
	q := `
		DELETE FROM messages m
		WHERE m.smtp_ts IS NOT NULL AND m.smtp_ts <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM message_events e
			WHERE e.message_pk = m.pk AND (e.reported_ts IS NULL OR e.reported_ts > $1)
		  )
	`
	res, err := r.db.ExecContext(ctx, q, ts)
	if err != nil {
		return 0, fmt.Errorf("remove fully reported messages before %s: %w", ts, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for retention sweep: %w", err)
	}
	return int(n), nil
}

// queryRowExecer abstracts QueryRowContext over either a transaction or
// the raw pool, mirroring the teacher's dual sql.DB/sql.Tx repository
// pattern without a context-propagated Querier (no per-request RLS tx
// to thread through here — see DESIGN.md).
func queryRowExecer(tx *sql.Tx, db *sql.DB) func(ctx context.Context, query string, args ...any) *sql.Row {
	if tx != nil {
		return tx.QueryRowContext
	}
	return db.QueryRowContext
}
