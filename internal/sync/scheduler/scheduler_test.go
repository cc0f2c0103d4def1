// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/stockline/salesync/internal/config"
	"github.com/stockline/salesync/internal/models"
	syncpkg "github.com/stockline/salesync/internal/sync"
	"github.com/stockline/salesync/internal/sync/connectivity"
)

// =====================================================
// Test Helpers
// =====================================================

// fakeEngine counts RunSync calls. Other methods are not used by the scheduler.
type fakeEngine struct {
	syncpkg.SyncEngineInterface

	runs    atomic.Int32
	running atomic.Bool
	release chan struct{}
}

func (e *fakeEngine) RunSync(ctx context.Context) *syncpkg.SyncResult {
	if !e.running.CompareAndSwap(false, true) {
		return &syncpkg.SyncResult{AlreadyRunning: true}
	}
	defer e.running.Store(false)
	e.runs.Add(1)
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
		}
	}
	return &syncpkg.SyncResult{Succeeded: true, Outcome: models.SyncOutcomeSuccess}
}

type stubProber struct{ reachable atomic.Bool }

func (p *stubProber) CheckReachable(context.Context) bool { return p.reachable.Load() }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 20 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
		SyncTimeout:  time.Second,
	}
}

// =====================================================
// Config
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	cfg := DefaultSchedulerConfig()

	if cfg.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", cfg.SyncInterval)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
}

// TestConfigFrom verifies intervals are taken from the daemon configuration.
func TestConfigFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Interval = config.Duration(time.Minute)
	cfg.Sync.ConnectivityPoll = config.Duration(5 * time.Second)

	got := ConfigFrom(cfg)
	if got.SyncInterval != time.Minute || got.PollInterval != 5*time.Second {
		t.Errorf("ConfigFrom() = %+v", got)
	}
}

// TestNewScheduler_defaults verifies zero values fall back to defaults.
func TestNewScheduler_defaults(t *testing.T) {
	s := NewScheduler(&fakeEngine{}, nil, &SchedulerConfig{})
	if s.syncInterval != 15*time.Minute {
		t.Errorf("syncInterval = %v, want 15m", s.syncInterval)
	}
	if !s.IsOnline() {
		t.Error("IsOnline() = false without a monitor")
	}
}

// =====================================================
// Lifecycle
// =====================================================

// TestScheduler_periodicSync verifies ticks run the engine and Stop leaks nothing.
func TestScheduler_periodicSync(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{}
	s := NewScheduler(engine, nil, testConfig())
	s.Start(context.Background())
	s.Start(context.Background())

	waitFor(t, "two periodic syncs", func() bool { return engine.runs.Load() >= 2 })
	if !s.IsRunning() {
		t.Error("IsRunning() = false while started")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	status := s.GetStatus()
	if status.LastSyncTime == nil || status.LastOutcome != models.SyncOutcomeSuccess {
		t.Errorf("GetStatus() = %+v", status)
	}
}

// TestScheduler_skipsWhileOffline verifies periodic syncs wait for connectivity
// and regaining it triggers one.
func TestScheduler_skipsWhileOffline(t *testing.T) {
	defer goleak.VerifyNone(t)

	prober := &stubProber{}
	monitor := connectivity.New(prober, time.Second)
	monitor.SetOnline(false)

	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	s := NewScheduler(engine, monitor, cfg)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(80 * time.Millisecond)
	if n := engine.runs.Load(); n != 0 {
		t.Fatalf("runs while offline = %d, want 0", n)
	}

	monitor.SetOnline(true)
	waitFor(t, "sync on regain", func() bool { return engine.runs.Load() >= 1 })
}

// TestScheduler_pollDetectsRegain verifies connectivity polling drives the regain trigger.
func TestScheduler_pollDetectsRegain(t *testing.T) {
	defer goleak.VerifyNone(t)

	prober := &stubProber{}
	monitor := connectivity.New(prober, time.Second)
	monitor.SetOnline(false)

	engine := &fakeEngine{}
	cfg := testConfig()
	cfg.SyncInterval = time.Hour
	s := NewScheduler(engine, monitor, cfg)
	s.Start(context.Background())
	defer s.Stop()

	prober.reachable.Store(true)
	waitFor(t, "poll to regain connectivity", monitor.Online)
	waitFor(t, "sync on regain", func() bool { return engine.runs.Load() == 1 })
}

// TestScheduler_triggerSync verifies only one background sync runs at a time.
func TestScheduler_triggerSync(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{release: make(chan struct{})}
	cfg := testConfig()
	cfg.SyncInterval = time.Hour
	s := NewScheduler(engine, nil, cfg)

	if s.TriggerSync() {
		t.Error("TriggerSync() = true before Start")
	}

	s.Start(context.Background())
	if !s.TriggerSync() {
		t.Fatal("TriggerSync() = false on idle scheduler")
	}
	if s.TriggerSync() {
		t.Error("TriggerSync() = true while a sync is in progress")
	}
	waitFor(t, "sync to start", func() bool { return engine.runs.Load() == 1 })
	if !s.GetStatus().SyncInProgress {
		t.Error("SyncInProgress = false during sync")
	}

	close(engine.release)
	waitFor(t, "sync to finish", func() bool { return !s.GetStatus().SyncInProgress })
	s.Stop()
}

// TestScheduler_stopCancelsInflightSync verifies Stop does not wait for a hung cycle.
func TestScheduler_stopCancelsInflightSync(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{release: make(chan struct{})}
	cfg := testConfig()
	cfg.SyncInterval = time.Hour
	s := NewScheduler(engine, nil, cfg)
	s.Start(context.Background())
	s.TriggerSync()
	waitFor(t, "sync to start", func() bool { return engine.runs.Load() == 1 })

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

// TestScheduler_syncNow verifies the blocking entry point and collapse signal.
func TestScheduler_syncNow(t *testing.T) {
	engine := &fakeEngine{}
	s := NewScheduler(engine, nil, nil)

	result := s.SyncNow(context.Background())
	if !result.Succeeded {
		t.Errorf("SyncNow() = %+v", result)
	}

	engine.running.Store(true)
	result = s.SyncNow(context.Background())
	if !result.AlreadyRunning {
		t.Error("SyncNow() during a running cycle should report AlreadyRunning")
	}

	var wg sync.WaitGroup
	engine.running.Store(false)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.SyncNow(context.Background())
		}()
	}
	wg.Wait()
	if engine.runs.Load() < 2 {
		t.Errorf("runs = %d, want at least 2", engine.runs.Load())
	}
}
