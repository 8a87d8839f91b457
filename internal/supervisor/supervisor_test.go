// SPDX-License-Identifier: AGPL-3.0-or-later
package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	woken    int
	ranNowAt []string
}

func (f *fakeTask) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeTask) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTask) WakeNow() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.woken++
}

func (f *fakeTask) RunNow(tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranNowAt = append(f.ranNowAt, tenantID)
}

func (f *fakeTask) Status() map[string]time.Time {
	return map[string]time.Time{"t1": time.Now()}
}

type fakePool struct {
	closed bool
}

func (p *fakePool) CloseAll() { p.closed = true }

func TestSupervisor_StartStop(t *testing.T) {
	t.Parallel()

	dispatch := &fakeTask{}
	report := &fakeTask{}
	pool := &fakePool{}
	s := New(dispatch, report, pool)

	s.Start(context.Background())
	assert.True(t, dispatch.started)
	assert.True(t, report.started)

	s.Stop()
	assert.True(t, dispatch.stopped)
	assert.True(t, report.stopped)
	assert.True(t, pool.closed)
}

func TestSupervisor_SuspendActivate_ExactScope(t *testing.T) {
	t.Parallel()

	s := New(&fakeTask{}, &fakeTask{}, &fakePool{})

	assert.False(t, s.IsSuspended("t1", "a1"))
	s.Suspend("t1", "a1")
	assert.True(t, s.IsSuspended("t1", "a1"))
	assert.False(t, s.IsSuspended("t1", "a2"))

	s.Activate("t1", "a1")
	assert.False(t, s.IsSuspended("t1", "a1"))
}

func TestSupervisor_Suspend_TenantWide(t *testing.T) {
	t.Parallel()

	s := New(&fakeTask{}, &fakeTask{}, &fakePool{})

	s.Suspend("t1", "")
	assert.True(t, s.IsSuspended("t1", "a1"))
	assert.True(t, s.IsSuspended("t1", "a2"))
	assert.False(t, s.IsSuspended("t2", "a1"))
}

func TestSupervisor_Suspend_Global(t *testing.T) {
	t.Parallel()

	s := New(&fakeTask{}, &fakeTask{}, &fakePool{})

	s.Suspend("", "")
	assert.True(t, s.IsSuspended("t1", "a1"))
	assert.True(t, s.IsSuspended("t2", "a2"))
}

func TestSupervisor_RunNow_WakesDispatchAndResetsReportDND(t *testing.T) {
	t.Parallel()

	dispatch := &fakeTask{}
	report := &fakeTask{}
	s := New(dispatch, report, &fakePool{})

	s.RunNow("t1")

	assert.Equal(t, 1, dispatch.woken)
	assert.Equal(t, []string{"t1"}, report.ranNowAt)
}

func TestSupervisor_Status_ReflectsSuspensionsAndLastSync(t *testing.T) {
	t.Parallel()

	s := New(&fakeTask{}, &fakeTask{}, &fakePool{})
	s.Suspend("t1", "a1")

	status := s.Status()

	require.Len(t, status.Suspended, 1)
	assert.Equal(t, "t1", status.Suspended[0].TenantID)
	assert.Equal(t, "a1", status.Suspended[0].AccountID)
	assert.Contains(t, status.LastSync, "t1")
}
