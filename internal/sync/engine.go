package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stockline/salesync/internal/config"
	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
	"github.com/stockline/salesync/internal/storage"
	"github.com/stockline/salesync/internal/sync/cache"
	"github.com/stockline/salesync/internal/sync/conflict"
	"github.com/stockline/salesync/internal/sync/queue"
	"github.com/stockline/salesync/internal/sync/remote"
)

// Config is the engine's retry, eviction and freshness policy.
type Config struct {
	Tables      []models.Table
	MaxAttempts int
	EvictAfter  time.Duration
	CacheTTL    time.Duration
	// CallTimeout bounds every individual remote call.
	CallTimeout time.Duration
}

// DefaultConfig returns the policy used when none is given.
func DefaultConfig() Config {
	return Config{
		Tables:      models.AllTables(),
		MaxAttempts: 5,
		EvictAfter:  7 * 24 * time.Hour,
		CacheTTL:    5 * time.Minute,
		CallTimeout: 10 * time.Second,
	}
}

// ConfigFrom extracts the engine policy from the daemon configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Tables:      cfg.Sync.Tables,
		MaxAttempts: cfg.Sync.MaxAttempts,
		EvictAfter:  cfg.Sync.EvictAfter.Std(),
		CacheTTL:    cfg.Sync.CacheTTL.Std(),
		CallTimeout: cfg.Remote.Timeout.Std(),
	}
}

// Deps are the collaborators of a SyncEngine. Blobs and Remote are
// required; the stores default to ones built on Blobs.
type Deps struct {
	Blobs        storage.BlobStore
	Remote       remote.Remote
	Connectivity Connectivity
	Queue        *queue.Store
	Cache        *cache.Store
	Resolver     *conflict.Resolver
	Conflicts    *conflict.Log
}

// Option configures a SyncEngine.
type Option func(*SyncEngine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *SyncEngine) { e.now = now }
}

// SyncEngine owns the sync state of one device. Construct one per process
// and share it.
type SyncEngine struct {
	blobs     storage.BlobStore
	remote    remote.Remote
	conn      Connectivity
	queue     *queue.Store
	cache     *cache.Store
	resolver  *conflict.Resolver
	conflicts *conflict.Log
	cfg       Config
	now       func() time.Time

	running atomic.Bool

	mu      sync.RWMutex
	state   models.SyncState
	status  models.SyncStatus
	handler SyncEventHandler

	// cacheMu serializes read-modify-write cycles on cached collections.
	cacheMu sync.Mutex
}

// New creates a SyncEngine and loads the persisted sync status.
func New(ctx context.Context, deps Deps, cfg Config, opts ...Option) (*SyncEngine, error) {
	if deps.Blobs == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a blob store")
	}
	if deps.Remote == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine requires a remote")
	}

	def := DefaultConfig()
	if len(cfg.Tables) == 0 {
		cfg.Tables = def.Tables
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}

	e := &SyncEngine{
		blobs:     deps.Blobs,
		remote:    deps.Remote,
		conn:      deps.Connectivity,
		queue:     deps.Queue,
		cache:     deps.Cache,
		resolver:  deps.Resolver,
		conflicts: deps.Conflicts,
		cfg:       cfg,
		now:       time.Now,
		state:     models.SyncStateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.conn == nil {
		e.conn = alwaysOnline{}
	}
	if e.queue == nil {
		e.queue = queue.New(e.blobs, queue.WithClock(e.now))
	}
	if e.cache == nil {
		e.cache = cache.New(e.blobs, cache.WithClock(e.now))
	}
	if e.resolver == nil {
		e.resolver = conflict.NewResolver(conflict.StrategyRemoteWins)
	}
	if e.conflicts == nil {
		e.conflicts = conflict.NewLog(e.blobs, conflict.DefaultLogCapacity)
	}

	e.status = e.loadStatus(ctx)
	e.refreshCounts(ctx)
	e.queue.OnChange(func() {
		e.refreshCounts(context.Background())
		e.emit(EventQueueChanged, nil)
	})
	return e, nil
}

// State returns the position in the current cycle.
func (e *SyncEngine) State() models.SyncState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *SyncEngine) setState(state models.SyncState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
	logging.Debug("Sync state changed", map[string]interface{}{"state": state})
}

// RunSync performs one cycle: drain the queue, pull every tracked table and
// merge the results into the cache. It never returns an error; failures are
// accumulated in the result and the status is persisted exactly once.
func (e *SyncEngine) RunSync(ctx context.Context) *SyncResult {
	if !e.running.CompareAndSwap(false, true) {
		logging.Debug("Sync already in progress", nil)
		return &SyncResult{AlreadyRunning: true, StartedAt: e.now(), Errors: []SyncError{}}
	}
	defer e.running.Store(false)

	result := newResult(e.now())
	e.emit(EventSyncStarted, nil)
	logging.Info("Sync started", map[string]interface{}{"tables": e.cfg.Tables})

	online := e.reachable(ctx)
	if online {
		e.setState(models.SyncStateDrainingQueue)
		e.drain(ctx, result)

		e.setState(models.SyncStatePullingRemote)
		pulled := e.pull(ctx, result)

		e.setState(models.SyncStateMerging)
		e.merge(ctx, pulled, result)

		result.Outcome = result.outcome()
	} else {
		result.Outcome = models.SyncOutcomeOffline
	}

	e.finalize(context.WithoutCancel(ctx), result, online)
	return result
}

func (e *SyncEngine) reachable(ctx context.Context) bool {
	if !e.conn.Online() {
		return false
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.remote.CheckReachable(callCtx)
}

func (e *SyncEngine) finalize(ctx context.Context, result *SyncResult, online bool) {
	result.Duration = e.now().Sub(result.StartedAt)
	result.Succeeded = result.Outcome == models.SyncOutcomeSuccess
	for _, se := range result.Errors {
		if se.Scope == ScopeItem {
			result.FailedCount++
		}
	}

	if result.Outcome == models.SyncOutcomeFailed {
		e.setState(models.SyncStateFailed)
	}

	now := e.now()
	e.mu.Lock()
	status := e.status
	status.LastAttemptAt = &now
	status.Connectivity = online
	status.LastOutcome = result.Outcome
	status.LastError = ""
	if len(result.Errors) > 0 {
		status.LastError = result.Errors[0].Message
	}
	if result.Outcome == models.SyncOutcomeSuccess || result.Outcome == models.SyncOutcomePartial {
		status.LastSyncAt = &now
	}
	e.mu.Unlock()

	if stats, err := e.queue.Stats(ctx); err == nil {
		status.PendingCount = stats.Pending
		status.ExhaustedCount = stats.ExhaustedCount
	}
	status.State = models.SyncStateIdle
	e.storeStatus(ctx, status)
	e.setState(models.SyncStateIdle)

	fields := map[string]interface{}{
		"outcome":      result.Outcome,
		"drained":      result.Drained,
		"failed_count": result.FailedCount,
		"exhausted":    result.Exhausted,
		"conflicts":    result.Conflicts,
		"duration_ms":  result.Duration.Milliseconds(),
	}
	switch result.Outcome {
	case models.SyncOutcomeSuccess, models.SyncOutcomeOffline:
		logging.Info("Sync finished", fields)
		e.emit(EventSyncCompleted, result)
	default:
		logging.Warn("Sync finished with errors", fields)
		e.emit(EventSyncFailed, result)
	}
}

// QueueStats summarizes the queue.
func (e *SyncEngine) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return e.queue.Stats(ctx)
}

// Conflicts returns the recorded conflict resolutions, oldest first.
func (e *SyncEngine) Conflicts(ctx context.Context) ([]models.ConflictLog, error) {
	return e.conflicts.Entries(ctx)
}

// DismissConflicts clears the conflict log.
func (e *SyncEngine) DismissConflicts(ctx context.Context) error {
	return e.conflicts.Clear(ctx)
}

// RetryExhausted resets exhausted items so the next drain attempts them again.
func (e *SyncEngine) RetryExhausted(ctx context.Context) (int, error) {
	return e.queue.RetryExhausted(ctx)
}

// PurgeExhausted drops exhausted items.
func (e *SyncEngine) PurgeExhausted(ctx context.Context) (int, error) {
	purged, err := e.queue.PurgeExhausted(ctx)
	return len(purged), err
}

// Cached returns the snapshot of table. An absent or unreadable snapshot is
// returned as an empty, stale view.
func (e *SyncEngine) Cached(ctx context.Context, table models.Table) (*CachedView, error) {
	if !table.IsValid() {
		return nil, apperrors.Newf(apperrors.ErrInvalid, "unknown table %q", table)
	}
	view := &CachedView{Table: table, Items: []models.Record{}}
	col := e.cache.Get(ctx, table)
	if col == nil {
		return view, nil
	}
	view.Items = col.Items
	updated := col.LastUpdated
	view.LastUpdated = &updated
	view.Fresh = e.cache.IsFresh(ctx, table, e.cfg.CacheTTL)
	return view, nil
}
