package app

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/stockline/salesync/internal/config"
	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/models"
)

// Bridge exposes the engine through string-in, JSON-out calls for foreign
// function interfaces. All methods are safe for concurrent use.
type Bridge struct {
	mu  sync.RWMutex
	app *App
}

// NewBridge creates an uninitialised Bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Init builds and starts the engine. settings is a YAML or JSON document
// layered over the defaults; an empty string keeps them. Calling Init twice
// is an error.
func (b *Bridge) Init(ctx context.Context, settings string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return apperrors.New(apperrors.ErrDuplicate, "sync engine already initialised")
	}

	cfg := config.Default()
	if settings != "" {
		if err := config.Parse([]byte(settings), cfg); err != nil {
			return err
		}
	}
	logging.InitWithFormat(os.Stderr, logging.ParseLevel(cfg.Log.Level), logging.Format(cfg.Log.Format))

	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	a.Start(context.WithoutCancel(ctx))
	b.app = a
	return nil
}

// Close stops the engine. It is a no-op when not initialised.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return nil
	}
	err := b.app.Close()
	b.app = nil
	return err
}

func (b *Bridge) current() (*App, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.app == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "sync engine not initialised")
	}
	return b.app, nil
}

func encode(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to serialize", err)
	}
	return string(data), nil
}

// RunSync runs one cycle and returns the SyncResult.
func (b *Bridge) RunSync(ctx context.Context) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	return encode(a.Scheduler.SyncNow(ctx))
}

// QueueOrExecute applies a JSON encoded models.Mutation.
func (b *Bridge) QueueOrExecute(ctx context.Context, mutation string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	var m models.Mutation
	if err := json.Unmarshal([]byte(mutation), &m); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid mutation JSON", err)
	}
	res, err := a.Engine.QueueOrExecute(ctx, m)
	if err != nil {
		return "", err
	}
	return encode(res)
}

// Status returns the persisted sync status.
func (b *Bridge) Status() (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	return encode(a.Engine.Status())
}

// QueueStats returns the queue counters.
func (b *Bridge) QueueStats(ctx context.Context) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	stats, err := a.Engine.QueueStats(ctx)
	if err != nil {
		return "", err
	}
	return encode(stats)
}

// Cached returns the cached view of one table.
func (b *Bridge) Cached(ctx context.Context, table string) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	t, err := models.ParseTable(table)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid table", err)
	}
	view, err := a.Engine.Cached(ctx, t)
	if err != nil {
		return "", err
	}
	return encode(view)
}

// Conflicts returns the recorded conflict log.
func (b *Bridge) Conflicts(ctx context.Context) (string, error) {
	a, err := b.current()
	if err != nil {
		return "", err
	}
	entries, err := a.Engine.Conflicts(ctx)
	if err != nil {
		return "", err
	}
	if entries == nil {
		entries = []models.ConflictLog{}
	}
	return encode(entries)
}

// SetOnline forwards a platform network callback to the connectivity
// monitor.
func (b *Bridge) SetOnline(online bool) error {
	a, err := b.current()
	if err != nil {
		return err
	}
	a.Connectivity.SetOnline(online)
	return nil
}
