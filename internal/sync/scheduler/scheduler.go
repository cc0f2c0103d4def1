// Package scheduler invokes the sync engine periodically and when
// connectivity returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/stockline/salesync/internal/config"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	syncpkg "github.com/stockline/salesync/internal/sync"
)

// Connectivity is the part of connectivity.Monitor the scheduler drives.
type Connectivity interface {
	Online() bool
	Poll(ctx context.Context) bool
	OnRegain(fn func())
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	conn         Connectivity
	syncInterval time.Duration
	pollInterval time.Duration
	syncTimeout  time.Duration

	stopCh chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastOutcome    models.SyncOutcome
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval time.Duration // How often to sync (default: 15 minutes)
	PollInterval time.Duration // How often to probe connectivity (default: 30 seconds)
	SyncTimeout  time.Duration // Upper bound for one cycle (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval: 15 * time.Minute,
		PollInterval: 30 * time.Second,
		SyncTimeout:  5 * time.Minute,
	}
}

// ConfigFrom extracts the scheduler settings from the daemon configuration.
func ConfigFrom(cfg *config.Config) *SchedulerConfig {
	def := DefaultSchedulerConfig()
	return &SchedulerConfig{
		SyncInterval: cfg.Sync.Interval.Std(),
		PollInterval: cfg.Sync.ConnectivityPoll.Std(),
		SyncTimeout:  def.SyncTimeout,
	}
}

// NewScheduler creates a new Scheduler. conn may be nil, in which case the
// scheduler neither polls nor reacts to connectivity changes.
func NewScheduler(engine syncpkg.SyncEngineInterface, conn Connectivity, config *SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if config == nil {
		config = def
	}

	s := &Scheduler{
		engine:       engine,
		conn:         conn,
		syncInterval: config.SyncInterval,
		pollInterval: config.PollInterval,
		syncTimeout:  config.SyncTimeout,
	}
	if s.syncInterval <= 0 {
		s.syncInterval = def.SyncInterval
	}
	if s.pollInterval <= 0 {
		s.pollInterval = def.PollInterval
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = def.SyncTimeout
	}

	if conn != nil {
		conn.OnRegain(func() {
			logging.Info("Connectivity regained, triggering sync", nil)
			s.TriggerSync()
		})
	}
	return s
}

// Start starts the background loops. They run until Stop is called or ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx, stopCh := s.ctx, s.stopCh
	s.wg.Add(1)
	if s.conn != nil {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	go s.periodicSyncLoop(runCtx, stopCh)
	if s.conn != nil {
		go s.connectivityLoop(runCtx, stopCh)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval": s.syncInterval.String(),
		"poll_interval": s.pollInterval.String(),
	})
}

// Stop stops the scheduler and waits for in-flight syncs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// periodicSyncLoop runs a sync on every tick while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				logging.Debug("Skipping periodic sync - offline", nil)
				continue
			}
			s.TriggerSync()
		}
	}
}

// connectivityLoop probes the backend on every tick. Regaining
// connectivity triggers a sync through the OnRegain callback.
func (s *Scheduler) connectivityLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.conn.Poll(ctx)
		}
	}
}

// TriggerSync starts a sync in the background.
// Returns true if a sync was started, false if one is already in progress
// or the scheduler is stopped.
func (s *Scheduler) TriggerSync() bool {
	s.mu.Lock()
	if !s.isRunning || s.syncInProgress {
		s.mu.Unlock()
		return false
	}
	s.syncInProgress = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.syncInProgress = false
			s.mu.Unlock()
		}()
		s.runSync(ctx, "background")
	}()
	return true
}

// SyncNow runs a sync and waits for it. It does not require the scheduler
// to be started. A cycle already running elsewhere yields a result with
// AlreadyRunning set.
func (s *Scheduler) SyncNow(ctx context.Context) *syncpkg.SyncResult {
	return s.runSync(ctx, "manual")
}

// runSync executes one cycle under the sync timeout.
func (s *Scheduler) runSync(ctx context.Context, trigger string) *syncpkg.SyncResult {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	result := s.engine.RunSync(syncCtx)
	if result.AlreadyRunning {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return result
	}

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastOutcome = result.Outcome
	s.mu.Unlock()

	logging.Info("Scheduled sync completed", map[string]interface{}{
		"trigger":      trigger,
		"outcome":      result.Outcome,
		"drained":      result.Drained,
		"failed_count": result.FailedCount,
		"conflicts":    result.Conflicts,
	})
	return result
}

// SchedulerStatus is a snapshot of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool               `json:"is_running"`
	IsOnline       bool               `json:"is_online"`
	SyncInProgress bool               `json:"sync_in_progress"`
	LastSyncTime   *time.Time         `json:"last_sync_time,omitempty"`
	LastOutcome    models.SyncOutcome `json:"last_outcome,omitempty"`
	SyncInterval   time.Duration      `json:"sync_interval_ns"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	online := s.IsOnline()

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       online,
		SyncInProgress: s.syncInProgress,
		LastOutcome:    s.lastOutcome,
		SyncInterval:   s.syncInterval,
	}
	if !s.lastSyncTime.IsZero() {
		last := s.lastSyncTime
		status.LastSyncTime = &last
	}
	return status
}

// IsOnline returns the last known connectivity. Without a monitor the
// scheduler assumes it is online.
func (s *Scheduler) IsOnline() bool {
	if s.conn == nil {
		return true
	}
	return s.conn.Online()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
