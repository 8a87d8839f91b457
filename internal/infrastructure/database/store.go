// SPDX-License-Identifier: AGPL-3.0-or-later

// Package database is the Store: the single source of truth for
// tenants, accounts, messages, message-events, and send-log rows. All
// state transitions described in spec.md §4.1 pass through here.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/secrets"
	"github.com/btouchard/mailrelay/internal/platform/logger"
)

// Store is a façade over *sql.DB composing the four repositories.
// Multi-table writes (mark_sent+log_send, add_event+message state
// update) run inside one db.BeginTx/commit, mirroring the teacher's
// tenant.WithTenantContext transaction wrapping without the RLS
// set_config step (see DESIGN.md).
type Store struct {
	db       *sql.DB
	Tenants  *TenantRepository
	Accounts *AccountRepository
	Messages *MessageRepository
	Events   *EventRepository
}

func NewStore(db *sql.DB, secretsProvider secrets.Provider) *Store {
	return &Store{
		db:       db,
		Tenants:  NewTenantRepository(db),
		Accounts: NewAccountRepository(db, secretsProvider),
		Messages: NewMessageRepository(db),
		Events:   NewEventRepository(db),
	}
}

// InsertMessages upserts a batch by (tenant_id, id); see MessageRepository.Insert.
func (s *Store) InsertMessages(ctx context.Context, batch []models.Message) ([]InsertResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert_messages tx: %w", err)
	}
	defer tx.Rollback()

	results, err := s.Messages.Insert(ctx, tx, batch)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert_messages tx: %w", err)
	}
	return results, nil
}

// FetchReady returns dispatch candidates per spec.md §4.1 ordering.
func (s *Store) FetchReady(ctx context.Context, limit int, now time.Time) ([]models.Message, error) {
	return s.Messages.FetchReady(ctx, limit, now)
}

// GetMessage returns one message by its client-facing id, for the
// admin API's message detail endpoint.
func (s *Store) GetMessage(ctx context.Context, tenantID, messageID string) (*models.Message, error) {
	return s.Messages.GetByID(ctx, tenantID, messageID)
}

// ListMessages returns a page of tenantID's messages, for the admin
// API's message listing endpoint.
func (s *Store) ListMessages(ctx context.Context, tenantID string, limit, offset int) ([]models.Message, int, error) {
	return s.Messages.ListByTenant(ctx, tenantID, limit, offset)
}

// SetDeferred sets deferred_ts and appends a "deferred" event atomically.
func (s *Store) SetDeferred(ctx context.Context, pk string, until time.Time, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Messages.SetDeferred(ctx, tx, pk, until); err != nil {
			return err
		}
		metadata := []byte(fmt.Sprintf(`{"deferred_ts":%d}`, until.Unix()))
		_, err := s.Events.Add(ctx, tx, pk, models.EventDeferred, time.Now().UTC(), reason, metadata)
		return err
	})
}

// MarkSent sets smtp_ts and appends the terminal "sent" event atomically.
// Kept for callers that only touch message state; dispatch must use
// MarkSentAndLogSend so the send-log row commits in the same
// transaction (spec.md §5 "Shared resources").
func (s *Store) MarkSent(ctx context.Context, pk string, ts time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Messages.SetSMTPTS(ctx, tx, pk, ts); err != nil {
			return err
		}
		_, err := s.Events.Add(ctx, tx, pk, models.EventSent, ts, "", nil)
		return err
	})
}

// MarkSentAndLogSend sets smtp_ts, appends the terminal "sent" event,
// and logs the send against accountPK's rate-limit window, all in one
// transaction: spec.md §5 "Shared resources" requires mark_sent and
// log_send to commit together, since a send that's terminal but never
// counted would let an account silently exceed its configured limit.
func (s *Store) MarkSentAndLogSend(ctx context.Context, pk, accountPK string, ts time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Messages.SetSMTPTS(ctx, tx, pk, ts); err != nil {
			return err
		}
		if _, err := s.Events.Add(ctx, tx, pk, models.EventSent, ts, "", nil); err != nil {
			return err
		}
		return s.Accounts.LogSendTx(ctx, tx, accountPK, ts)
	})
}

// MarkError sets smtp_ts and appends the terminal "error" event atomically.
func (s *Store) MarkError(ctx context.Context, pk string, ts time.Time, description string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.Messages.SetSMTPTS(ctx, tx, pk, ts); err != nil {
			return err
		}
		_, err := s.Events.Add(ctx, tx, pk, models.EventError, ts, description, nil)
		return err
	})
}

// AddEvent appends an arbitrary event (bounce, pec_*) and, when the type
// is sent/error/deferred, applies the matching message-state side
// effect in the same transaction — idempotent with the explicit
// MarkSent/MarkError/SetDeferred calls (spec.md §4.1).
func (s *Store) AddEvent(ctx context.Context, pk string, eventType models.EventType, ts time.Time, description string, metadata []byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		switch eventType {
		case models.EventSent, models.EventError:
			if err := s.Messages.SetSMTPTS(ctx, tx, pk, ts); err != nil {
				return err
			}
		case models.EventDeferred:
			if err := s.Messages.SetDeferred(ctx, tx, pk, ts); err != nil {
				return err
			}
		}
		_, err := s.Events.Add(ctx, tx, pk, eventType, ts, description, metadata)
		return err
	})
}

// FetchUnreported returns events ready for the ReportSynchronizer.
func (s *Store) FetchUnreported(ctx context.Context, limit int) ([]models.MessageEvent, error) {
	return s.Events.FetchUnreported(ctx, limit)
}

// MarkEventsReported acknowledges events the tenant's sync endpoint accepted.
func (s *Store) MarkEventsReported(ctx context.Context, ids []string, ts time.Time) error {
	return s.Events.MarkReported(ctx, ids, ts)
}

// RemoveFullyReportedBefore applies retention (spec.md §4.6 step 7).
func (s *Store) RemoveFullyReportedBefore(ctx context.Context, ts time.Time) (int, error) {
	return s.Messages.RemoveFullyReportedBefore(ctx, ts)
}

// LogSend/CountSendsSince delegate to AccountRepository's account_sends table.
func (s *Store) LogSend(ctx context.Context, accountPK string, ts time.Time) error {
	return s.Accounts.LogSend(ctx, accountPK, ts)
}

func (s *Store) CountSendsSince(ctx context.Context, accountPK string, epoch time.Time) (int, error) {
	return s.Accounts.CountSendsSince(ctx, accountPK, epoch)
}

// CountDeferrals returns how many times pk has been deferred, used by
// the dispatch loop to size the next retry delay (spec.md §4.4).
func (s *Store) CountDeferrals(ctx context.Context, pk string) (int, error) {
	return s.Messages.CountDeferrals(ctx, pk)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.Logger.Error("tx rollback failed", "error", rbErr.Error())
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
