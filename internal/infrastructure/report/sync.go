// SPDX-License-Identifier: AGPL-3.0-or-later
package report

import (
	"context"
	"sync"
	"time"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/platform/logger"
)

// Store is the subset of database.Store the synchronizer depends on.
type Store interface {
	FetchUnreported(ctx context.Context, limit int) ([]models.MessageEvent, error)
	MarkEventsReported(ctx context.Context, ids []string, ts time.Time) error
	RemoveFullyReportedBefore(ctx context.Context, ts time.Time) (int, error)
}

// TenantLister enumerates active tenants for starvation prevention,
// spec.md §4.6 step 3.
type TenantLister interface {
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

// Syncer performs one tenant's POST, implemented by *Client.
type Syncer interface {
	Sync(ctx context.Context, tenant models.Tenant, records []Record) (*SyncResponse, error)
}

// Config tunes one synchronizer tick, spec.md §4.6.
type Config struct {
	BatchSize        int
	SyncInterval     time.Duration
	RetentionSeconds int
}

type tenantBatch struct {
	records       []Record
	eventIDsByMsg map[string][]string
}

// Synchronizer is the ReportSynchronizer: Start/Stop lifecycle mirrors
// dispatch.Loop (sync.WaitGroup + cancel-aware ticker/wake channel).
type Synchronizer struct {
	store   Store
	tenants TenantLister
	client  Syncer
	cfg     Config

	mu            sync.Mutex
	lastSync      map[string]time.Time
	runNowFilter  string
	hasRunNowOnly bool

	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(store Store, tenants TenantLister, client Syncer, cfg Config) *Synchronizer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 300 * time.Second
	}
	return &Synchronizer{
		store:    store,
		tenants:  tenants,
		client:   client,
		cfg:      cfg,
		lastSync: make(map[string]time.Time),
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (s *Synchronizer) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.tick(ctx)
			case <-s.wakeCh:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Synchronizer) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunNow resets DND for tenantID (empty string = all tenants) and wakes
// the next tick immediately, spec.md §4.6 "Wake model".
func (s *Synchronizer) RunNow(tenantID string) {
	s.mu.Lock()
	if tenantID != "" {
		s.lastSync[tenantID] = time.Time{}
		s.runNowFilter = tenantID
		s.hasRunNowOnly = true
	} else {
		s.lastSync = make(map[string]time.Time)
	}
	s.mu.Unlock()

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Status returns each tenant's last_sync timestamp for the admin API's
// list-tenants-sync-status command.
func (s *Synchronizer) Status() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.lastSync))
	for k, v := range s.lastSync {
		out[k] = v
	}
	return out
}

func (s *Synchronizer) consumeRunNowFilter() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasRunNowOnly {
		return "", false
	}
	filter := s.runNowFilter
	s.runNowFilter = ""
	s.hasRunNowOnly = false
	return filter, true
}

func (s *Synchronizer) getLastSync(tenantID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync[tenantID]
}

func (s *Synchronizer) setLastSync(tenantID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[tenantID] = ts
}

func (s *Synchronizer) tick(ctx context.Context) {
	now := time.Now().UTC()

	events, err := s.store.FetchUnreported(ctx, s.cfg.BatchSize)
	if err != nil {
		logger.Logger.Error("report_fetch_unreported_failed", "error", err.Error())
		return
	}

	batches := groupByTenant(events)

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		logger.Logger.Error("report_list_active_tenants_failed", "error", err.Error())
		return
	}

	filter, filtered := s.consumeRunNowFilter()

	for _, tenant := range tenants {
		if filtered && tenant.ID != filter {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		batch := batches[tenant.ID]
		s.syncTenant(ctx, tenant, batch, now)
	}

	if s.cfg.RetentionSeconds > 0 {
		cutoff := now.Add(-time.Duration(s.cfg.RetentionSeconds) * time.Second)
		if _, err := s.store.RemoveFullyReportedBefore(ctx, cutoff); err != nil {
			logger.Logger.Error("report_retention_sweep_failed", "error", err.Error())
		}
	}
}

// groupByTenant partitions unreported events by tenant, building both
// the wire records and the message-id -> event-id index used to mark
// specific events reported once the tenant acks a message id.
func groupByTenant(events []models.MessageEvent) map[string]tenantBatch {
	out := make(map[string]tenantBatch)
	for _, e := range events {
		b := out[e.TenantID]
		if b.eventIDsByMsg == nil {
			b.eventIDsByMsg = make(map[string][]string)
		}
		b.records = append(b.records, ProjectRecord(e))
		b.eventIDsByMsg[e.MessageID] = append(b.eventIDsByMsg[e.MessageID], e.EventID)
		out[e.TenantID] = b
	}
	return out
}

// syncTenant applies spec.md §4.6 step 4's DND decision, then performs
// the call and reconciles the response.
func (s *Synchronizer) syncTenant(ctx context.Context, tenant models.Tenant, batch tenantBatch, now time.Time) {
	last := s.getLastSync(tenant.ID)
	hasPayload := len(batch.records) > 0

	if last.After(now) {
		if !hasPayload {
			return
		}
	} else if !(last.IsZero() || now.Sub(last) >= s.cfg.SyncInterval || hasPayload) {
		return
	}

	resp, err := s.client.Sync(ctx, tenant, batch.records)
	if err != nil {
		logger.Logger.Error("report_sync_failed", "tenant_id", tenant.ID, "error", err.Error())
		return
	}

	s.setLastSync(tenant.ID, now)

	var ackedIDs []string
	for _, msgID := range resp.Sent {
		ackedIDs = append(ackedIDs, batch.eventIDsByMsg[msgID]...)
	}
	for _, msgID := range resp.Error {
		ackedIDs = append(ackedIDs, batch.eventIDsByMsg[msgID]...)
	}
	for _, msgID := range resp.NotFound {
		ackedIDs = append(ackedIDs, batch.eventIDsByMsg[msgID]...)
	}
	if len(ackedIDs) > 0 {
		if err := s.store.MarkEventsReported(ctx, ackedIDs, now); err != nil {
			logger.Logger.Error("report_mark_reported_failed", "tenant_id", tenant.ID, "error", err.Error())
		}
	}

	if resp.NextSyncAfter != nil {
		s.setLastSync(tenant.ID, timeFromEpoch(*resp.NextSyncAfter))
	}

	if resp.Queued > 0 {
		logger.Logger.Debug("report_tenant_backpressure", "tenant_id", tenant.ID, "queued", resp.Queued)
	}
}
