// Package crontest provides test doubles for the cron package.
package crontest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flemzord/tabkeeper/internal/cron"
)

// MockJob is a configurable test double for cron.Job.
type MockJob struct {
	NameVal     string
	ScheduleVal string
	RunFunc     func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	lastCall time.Time
}

var _ cron.Job = (*MockJob)(nil)

// Name implements cron.Job.
func (m *MockJob) Name() string { return m.NameVal }

// Schedule implements cron.Job.
func (m *MockJob) Schedule() string { return m.ScheduleVal }

// Run implements cron.Job and increments the call counter.
func (m *MockJob) Run(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	m.lastCall = time.Now()
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Run was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastCall returns the time of the last Run call.
func (m *MockJob) LastCall() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCall
}

// Maintenance is a test double implementing every sweeper interface.
type Maintenance struct {
	LockFunc   func(idle time.Duration) int
	ExpireFunc func(ctx context.Context) (int, error)
	SweepFunc  func(ctx context.Context) (int, int, error)

	LockCalls   atomic.Int32
	ExpireCalls atomic.Int32
	SweepCalls  atomic.Int32
}

var (
	_ cron.LockSweeper           = (*Maintenance)(nil)
	_ cron.StateExpirer          = (*Maintenance)(nil)
	_ cron.ReconciliationSweeper = (*Maintenance)(nil)
)

// SweepLocks implements cron.LockSweeper.
func (m *Maintenance) SweepLocks(idle time.Duration) int {
	m.LockCalls.Add(1)
	if m.LockFunc != nil {
		return m.LockFunc(idle)
	}
	return 0
}

// ExpireStates implements cron.StateExpirer.
func (m *Maintenance) ExpireStates(ctx context.Context) (int, error) {
	m.ExpireCalls.Add(1)
	if m.ExpireFunc != nil {
		return m.ExpireFunc(ctx)
	}
	return 0, nil
}

// SweepReconciliation implements cron.ReconciliationSweeper.
func (m *Maintenance) SweepReconciliation(ctx context.Context) (int, int, error) {
	m.SweepCalls.Add(1)
	if m.SweepFunc != nil {
		return m.SweepFunc(ctx)
	}
	return 0, 0, nil
}
