// SPDX-License-Identifier: AGPL-3.0-or-later
package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

type fakeReportStore struct {
	mu       sync.Mutex
	events   []models.MessageEvent
	reported []string
	removed  bool
	cutoff   time.Time
}

func (s *fakeReportStore) FetchUnreported(ctx context.Context, limit int) ([]models.MessageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, nil
}

func (s *fakeReportStore) MarkEventsReported(ctx context.Context, ids []string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = append(s.reported, ids...)
	return nil
}

func (s *fakeReportStore) RemoveFullyReportedBefore(ctx context.Context, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	s.cutoff = ts
	return 0, nil
}

type fakeTenantLister struct {
	tenants []models.Tenant
}

func (l *fakeTenantLister) ListActive(ctx context.Context) ([]models.Tenant, error) {
	return l.tenants, nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
	resp  *SyncResponse
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, tenant models.Tenant, records []Record) (*SyncResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenant.ID)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &SyncResponse{}, nil
}

func testTenant(id string) models.Tenant {
	return models.Tenant{ID: id, Name: id, Active: true, ClientBaseURL: "http://example.com"}
}

func TestSyncer_NeverSyncedTenantIsCalled(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	syncer := &fakeSyncer{}
	s := New(store, tenants, syncer, Config{})

	s.tick(context.Background())

	assert.Equal(t, []string{"t1"}, syncer.calls)
}

func TestSyncer_DNDFutureStampSkipsWithoutPayload(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	syncer := &fakeSyncer{}
	s := New(store, tenants, syncer, Config{})
	s.setLastSync("t1", time.Now().Add(time.Hour))

	s.tick(context.Background())

	assert.Empty(t, syncer.calls)
}

func TestSyncer_DNDOverriddenByPendingEvents(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{events: []models.MessageEvent{
		{EventID: "e1", MessageID: "m1", TenantID: "t1", EventType: models.EventSent, EventTS: time.Now()},
	}}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	syncer := &fakeSyncer{}
	s := New(store, tenants, syncer, Config{})
	s.setLastSync("t1", time.Now().Add(time.Hour))

	s.tick(context.Background())

	assert.Equal(t, []string{"t1"}, syncer.calls)
}

func TestSyncer_AcksMarkEventsReported(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{events: []models.MessageEvent{
		{EventID: "e1", MessageID: "m1", TenantID: "t1", EventType: models.EventSent, EventTS: time.Now()},
		{EventID: "e2", MessageID: "m2", TenantID: "t1", EventType: models.EventError, EventTS: time.Now(), Description: "boom"},
	}}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	syncer := &fakeSyncer{resp: &SyncResponse{Sent: []string{"m1"}, Error: []string{"m2"}}}
	s := New(store, tenants, syncer, Config{})

	s.tick(context.Background())

	assert.ElementsMatch(t, []string{"e1", "e2"}, store.reported)
}

func TestSyncer_NextSyncAfterSetsDND(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	future := time.Now().Add(2 * time.Hour).Unix()
	syncer := &fakeSyncer{resp: &SyncResponse{NextSyncAfter: &future}}
	s := New(store, tenants, syncer, Config{})

	s.tick(context.Background())
	require.Len(t, syncer.calls, 1)

	last := s.getLastSync("t1")
	assert.WithinDuration(t, time.Unix(future, 0).UTC(), last, time.Second)
}

func TestSyncer_HTTPFailureDoesNotMarkReported(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{events: []models.MessageEvent{
		{EventID: "e1", MessageID: "m1", TenantID: "t1", EventType: models.EventSent, EventTS: time.Now()},
	}}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1")}}
	syncer := &fakeSyncer{err: errors.New("connection refused")}
	s := New(store, tenants, syncer, Config{})

	s.tick(context.Background())

	assert.Empty(t, store.reported)
}

func TestSyncer_RunNowResetsDNDAndFiltersTick(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{}
	tenants := &fakeTenantLister{tenants: []models.Tenant{testTenant("t1"), testTenant("t2")}}
	syncer := &fakeSyncer{}
	s := New(store, tenants, syncer, Config{})
	s.setLastSync("t1", time.Now().Add(time.Hour))
	s.setLastSync("t2", time.Now().Add(time.Hour))

	s.RunNow("t1")
	s.tick(context.Background())

	assert.Equal(t, []string{"t1"}, syncer.calls)
}

func TestSyncer_RetentionSweepRunsWhenConfigured(t *testing.T) {
	t.Parallel()

	store := &fakeReportStore{}
	tenants := &fakeTenantLister{}
	syncer := &fakeSyncer{}
	s := New(store, tenants, syncer, Config{RetentionSeconds: 3600})

	s.tick(context.Background())

	assert.True(t, store.removed)
}

func TestProjectRecord_AllEventTypes(t *testing.T) {
	t.Parallel()

	now := time.Now()

	sent := ProjectRecord(models.MessageEvent{MessageID: "m1", AccountID: "a1", EventType: models.EventSent, EventTS: now})
	assert.Equal(t, now.Unix(), sent.SentTS)

	errored := ProjectRecord(models.MessageEvent{MessageID: "m2", EventType: models.EventError, EventTS: now, Description: "failed"})
	assert.Equal(t, "failed", errored.Error)

	bounce := ProjectRecord(models.MessageEvent{MessageID: "m3", EventType: models.EventBounce, EventTS: now, Description: "hard bounce", Metadata: []byte(`{"bounce_type":"hard","bounce_code":"550"}`)})
	assert.Equal(t, "hard", bounce.BounceType)
	assert.Equal(t, "550", bounce.BounceCode)

	pec := ProjectRecord(models.MessageEvent{MessageID: "m4", EventType: models.EventPECAcceptance, EventTS: now, Metadata: []byte(`{"x":1}`)})
	assert.Equal(t, "pec_acceptance", pec.PECEvent)
}
