// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch implements the SmtpSender/DispatchLoop, spec.md §4.5:
// one tick reads ready messages, applies the per-account rate limit,
// builds the MIME envelope, sends it through the SMTPPool, classifies
// the outcome, and writes exactly one event per message. Grounded on
// the teacher's internal/infrastructure/email.Worker
// (processLoop/processBatch/processEmail): poll-ticker driving a
// bounded-fan-out batch, generalized from a single global semaphore to
// one semaphore per account group (spec.md §5.3/§5.5 requires
// per-account, not global, concurrency bounds since pool capacity is
// per-account).
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/attachment"
	mailmime "github.com/btouchard/mailrelay/internal/infrastructure/mime"
	"github.com/btouchard/mailrelay/internal/platform/logger"
)

// Store is the subset of database.Store the dispatch loop depends on.
type Store interface {
	FetchReady(ctx context.Context, limit int, now time.Time) ([]models.Message, error)
	SetDeferred(ctx context.Context, pk string, until time.Time, reason string) error
	MarkSentAndLogSend(ctx context.Context, pk, accountPK string, ts time.Time) error
	MarkError(ctx context.Context, pk string, ts time.Time, description string) error
	CountDeferrals(ctx context.Context, pk string) (int, error)
}

// AccountLookup resolves the Account a message's account_id refers to.
type AccountLookup interface {
	Get(ctx context.Context, tenantID, accountID string) (*models.Account, error)
}

// RateLimiter evaluates spec.md §4.2 for one account.
type RateLimiter interface {
	Check(ctx context.Context, account models.Account, now time.Time) (deferUntil time.Time, reject bool, err error)
}

// RetryClassification mirrors smtp.Classification without importing the
// smtp package's regex machinery into this package's public surface.
type RetryClassification int

const (
	ClassTemporary RetryClassification = iota
	ClassPermanent
)

// RetryStrategy classifies a send failure and decides the retry delay,
// spec.md §4.4.
type RetryStrategy interface {
	Classify(err error) (class RetryClassification, reason string)
	ShouldRetry(class RetryClassification, attempt int) bool
	DelayFor(attempt int) time.Duration
}

// Sender performs one SMTP send attempt for an account against an
// already-built envelope, abstracting smtp.Pool's Acquire/Send/Release
// cycle so this package can be tested without real connections.
type Sender interface {
	Send(ctx context.Context, account models.Account, envelope Envelope) error
}

// Suspension reports whether dispatch must skip a message (spec.md
// §4.7 suspend/activate), consulted once per message before send.
type Suspension interface {
	IsSuspended(tenantID, accountID string) bool
}

// Config tunes one dispatch tick (spec.md §4.5, §5).
type Config struct {
	TickInterval             time.Duration
	GlobalBatchSize          int
	MaxConcurrencyPerAccount int
	MaxRetries               int
}

// Loop is the DispatchLoop: Start/Stop lifecycle mirrors the teacher's
// email.Worker (sync.WaitGroup + cancel context).
type Loop struct {
	store       Store
	accounts    AccountLookup
	rateLimiter RateLimiter
	retry       RetryStrategy
	sender      Sender
	attachments *attachment.Manager
	suspension  Suspension
	cfg         Config

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store Store, accounts AccountLookup, rateLimiter RateLimiter, retry RetryStrategy, sender Sender, attachments *attachment.Manager, suspension Suspension, cfg Config) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.GlobalBatchSize <= 0 {
		cfg.GlobalBatchSize = 100
	}
	if cfg.MaxConcurrencyPerAccount <= 0 {
		cfg.MaxConcurrencyPerAccount = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Loop{
		store:       store,
		accounts:    accounts,
		rateLimiter: rateLimiter,
		retry:       retry,
		sender:      sender,
		attachments: attachments,
		suspension:  suspension,
		cfg:         cfg,
		wakeCh:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start runs the tick loop in its own goroutine until Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.tick(ctx)
			case <-l.wakeCh:
				l.tick(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for the in-flight tick (if
// any) to finish; never cancels mid-send (spec.md §5 Cancellation).
func (l *Loop) Stop() {
	close(l.stopCh)
	l.wg.Wait()
}

// WakeNow requests an immediate tick, used by Supervisor.run_now.
func (l *Loop) WakeNow() {
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Loop) tick(ctx context.Context) {
	now := time.Now().UTC()
	batch, err := l.store.FetchReady(ctx, l.cfg.GlobalBatchSize, now)
	if err != nil {
		logger.Logger.Error("dispatch_fetch_ready_failed", "error", err.Error())
		return
	}
	if len(batch) == 0 {
		return
	}

	groups := groupByAccount(batch)

	var wg sync.WaitGroup
	for accountID, messages := range groups {
		if len(messages) == 0 {
			continue
		}
		if account, err := l.accounts.Get(ctx, messages[0].TenantID, accountID); err != nil {
			logger.Logger.Error("dispatch_account_lookup_failed", "account_id", accountID, "error", err.Error())
		} else if account.BatchSize > 0 && len(messages) > account.BatchSize {
			messages = messages[:account.BatchSize]
		}

		sem := make(chan struct{}, l.cfg.MaxConcurrencyPerAccount)
		for _, msg := range messages {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			default:
			}

			if l.suspension != nil && l.suspension.IsSuspended(msg.TenantID, accountID) {
				continue
			}

			sem <- struct{}{}
			wg.Add(1)
			go func(m models.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
	wg.Wait()
}

func (l *Loop) processMessage(ctx context.Context, msg models.Message) {
	now := time.Now().UTC()

	account, err := l.accounts.Get(ctx, msg.TenantID, msg.AccountID)
	if err != nil {
		logger.Logger.Error("dispatch_account_lookup_failed", "message_id", msg.ID, "account_id", msg.AccountID, "error", err.Error())
		return
	}

	deferUntil, reject, err := l.rateLimiter.Check(ctx, *account, now)
	if err != nil {
		logger.Logger.Error("dispatch_rate_limit_check_failed", "message_id", msg.ID, "error", err.Error())
		return
	}
	if !deferUntil.IsZero() {
		if reject {
			if err := l.store.MarkError(ctx, msg.PK, now, "rate_limit_reject"); err != nil {
				logger.Logger.Error("dispatch_mark_error_failed", "message_id", msg.ID, "error", err.Error())
			}
			return
		}
		if err := l.store.SetDeferred(ctx, msg.PK, deferUntil, "rate_limit"); err != nil {
			logger.Logger.Error("dispatch_set_deferred_failed", "message_id", msg.ID, "error", err.Error())
		}
		return
	}

	envelope, err := l.buildEnvelope(ctx, msg)
	if err != nil {
		logger.Logger.Error("dispatch_build_envelope_failed", "message_id", msg.ID, "error", err.Error())
		if err := l.store.MarkError(ctx, msg.PK, now, fmt.Sprintf("envelope build failed: %v", err)); err != nil {
			logger.Logger.Error("dispatch_mark_error_failed", "message_id", msg.ID, "error", err.Error())
		}
		return
	}

	sendErr := l.sender.Send(ctx, *account, envelope)
	if sendErr == nil {
		if err := l.store.MarkSentAndLogSend(ctx, msg.PK, account.PK, now); err != nil {
			logger.Logger.Error("dispatch_mark_sent_failed", "message_id", msg.ID, "error", err.Error())
		}
		return
	}

	class, reason := l.retry.Classify(sendErr)
	attempt, err := l.store.CountDeferrals(ctx, msg.PK)
	if err != nil {
		logger.Logger.Error("dispatch_count_deferrals_failed", "message_id", msg.ID, "error", err.Error())
		attempt = l.cfg.MaxRetries
	}

	if l.retry.ShouldRetry(class, attempt) {
		delay := l.retry.DelayFor(attempt)
		if err := l.store.SetDeferred(ctx, msg.PK, now.Add(delay), reason); err != nil {
			logger.Logger.Error("dispatch_set_deferred_failed", "message_id", msg.ID, "error", err.Error())
		}
		return
	}

	if err := l.store.MarkError(ctx, msg.PK, now, reason); err != nil {
		logger.Logger.Error("dispatch_mark_error_failed", "message_id", msg.ID, "error", err.Error())
	}
}

// groupByAccount partitions a tick's batch by account_id while
// preserving (priority, created_at) order within each group, since
// Store.FetchReady already returns rows in that order (spec.md §4.5
// tie-break: stable order, no oscillation).
func groupByAccount(batch []models.Message) map[string][]models.Message {
	groups := make(map[string][]models.Message)
	for _, m := range batch {
		groups[m.AccountID] = append(groups[m.AccountID], m)
	}
	for accountID, messages := range groups {
		sort.SliceStable(messages, func(i, j int) bool {
			if messages[i].Priority != messages[j].Priority {
				return messages[i].Priority < messages[j].Priority
			}
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		})
		groups[accountID] = messages
	}
	return groups
}

// attachmentFetchTimeout bounds how long one message's attachment
// fetches may take before the send attempt is abandoned as a failure.
const attachmentFetchTimeout = 30 * time.Second

func (l *Loop) buildEnvelope(ctx context.Context, msg models.Message) (Envelope, error) {
	env := Envelope{
		From:    msg.Payload.From,
		To:      msg.Payload.To,
		Cc:      msg.Payload.Cc,
		Bcc:     msg.Payload.Bcc,
		Subject: mailmime.EncodeHeader(msg.Payload.Subject),
		Body:    msg.Payload.Body,
		Headers: map[string]string{"X-Genro-Mail-ID": msg.ID},
	}
	if msg.Payload.ContentType != "" {
		env.ContentType = msg.Payload.ContentType
	} else {
		env.ContentType = "text/plain"
	}
	for k, v := range msg.Payload.Headers {
		env.Headers[k] = v
	}

	if len(msg.Payload.Attachments) > 0 && l.attachments != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, attachmentFetchTimeout)
		defer cancel()

		for _, att := range msg.Payload.Attachments {
			data, filename, err := l.attachments.Fetch(fetchCtx, att)
			if err != nil {
				return Envelope{}, fmt.Errorf("fetch attachment %q: %w", att.Filename, err)
			}
			env.Attachments = append(env.Attachments, EnvelopeAttachment{
				Filename:    mailmime.EncodeFilename(filename),
				Data:        data,
				ContentType: mailmime.GuessContentType(filename),
			})
		}
	}

	return env, nil
}
