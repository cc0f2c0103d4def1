// Package app assembles the sync engine and its collaborators from a
// configuration. It is shared by the daemon and the mobile bridge.
package app

import (
	"context"
	"io"
	"net/http"

	"github.com/stockline/salesync/internal/api"
	"github.com/stockline/salesync/internal/config"
	apperrors "github.com/stockline/salesync/internal/errors"
	"github.com/stockline/salesync/internal/logging"
	"github.com/stockline/salesync/internal/storage"
	syncpkg "github.com/stockline/salesync/internal/sync"
	"github.com/stockline/salesync/internal/sync/conflict"
	"github.com/stockline/salesync/internal/sync/connectivity"
	"github.com/stockline/salesync/internal/sync/remote"
	"github.com/stockline/salesync/internal/sync/remote/memremote"
	"github.com/stockline/salesync/internal/sync/remote/postgres"
	"github.com/stockline/salesync/internal/sync/remote/rest"
	"github.com/stockline/salesync/internal/sync/scheduler"
)

// App owns every long-lived component of one device.
type App struct {
	Config       *config.Config
	Blobs        storage.BlobStore
	Remote       remote.Remote
	Connectivity *connectivity.Monitor
	Engine       *syncpkg.SyncEngine
	Scheduler    *scheduler.Scheduler
	Hub          *api.WSHub

	closers []io.Closer
	cancel  context.CancelFunc
	hubDone chan struct{}
}

// New opens storage and the remote and builds the engine. Nothing runs in
// the background until Start.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}

	blobs, closer, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Blobs = blobs
	a.closers = append(a.closers, closer)

	rem, err := openRemote(cfg)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Remote = rem
	if c, ok := rem.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.Connectivity = connectivity.New(rem, cfg.Remote.Timeout.Std())

	engine, err := syncpkg.New(ctx, syncpkg.Deps{
		Blobs:        blobs,
		Remote:       rem,
		Connectivity: a.Connectivity,
		Resolver:     conflict.NewResolver(conflict.Strategy(cfg.Sync.PendingUpdatePolicy)),
	}, syncpkg.ConfigFrom(cfg))
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Engine = engine

	a.Hub = api.NewWSHub()
	engine.SetEventHandler(a.Hub)
	a.Scheduler = scheduler.NewScheduler(engine, a.Connectivity, scheduler.ConfigFrom(cfg))

	logging.Info("Sync engine ready", map[string]interface{}{
		"storage": cfg.Storage.Backend,
		"remote":  cfg.Remote.Kind,
		"tables":  len(cfg.Sync.Tables),
		"policy":  cfg.Sync.PendingUpdatePolicy,
	})
	return a, nil
}

// openRemote builds the backend client selected by cfg.Remote.Kind.
func openRemote(cfg *config.Config) (remote.Remote, error) {
	switch cfg.Remote.Kind {
	case config.RemoteREST:
		return rest.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout.Std(),
			rest.WithRefColumn(cfg.Remote.RefColumn)), nil
	case config.RemotePostgres:
		client, err := postgres.Open(cfg.Remote.DSN, postgres.WithRefColumn(cfg.Remote.RefColumn))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to open postgres remote", err)
		}
		return client, nil
	case config.RemoteMemory:
		return memremote.New(), nil
	}
	return nil, apperrors.Newf(apperrors.ErrConfig, "unknown remote kind %q", cfg.Remote.Kind)
}

// Start runs the event hub and the scheduler until Close.
func (a *App) Start(ctx context.Context) {
	if a.cancel != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.hubDone = make(chan struct{})
	go func() {
		defer close(a.hubDone)
		a.Hub.Run(ctx)
	}()
	a.Scheduler.Start(ctx)
}

// Handler returns the HTTP surface of the engine.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.Engine, a.Scheduler, a.Hub).Router()
}

// Close stops the background work and releases storage and remote
// resources.
func (a *App) Close() error {
	if a.cancel != nil {
		a.Scheduler.Stop()
		a.cancel()
		<-a.hubDone
		a.cancel = nil
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
