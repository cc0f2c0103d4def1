// Package connectivity tracks whether the remote backend is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/stockline/salesync/internal/logging"
)

// Prober checks reachability. remote.Remote satisfies it.
type Prober interface {
	CheckReachable(ctx context.Context) bool
}

// Monitor holds the last known connectivity. Platform callbacks report
// changes with SetOnline; Poll asks the Prober.
type Monitor struct {
	prober  Prober
	timeout time.Duration

	mu        sync.RWMutex
	online    bool
	changedAt time.Time
	listeners []func()
}

// New creates a Monitor that assumes it is online until told otherwise.
func New(prober Prober, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Monitor{
		prober:    prober,
		timeout:   timeout,
		online:    true,
		changedAt: time.Now(),
	}
}

// Online reports the last known connectivity.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ChangedAt returns when connectivity last changed.
func (m *Monitor) ChangedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changedAt
}

// OnRegain registers fn to run each time connectivity goes from offline to
// online. fn runs on the goroutine that observed the change.
func (m *Monitor) OnRegain(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// SetOnline records the connectivity and reports whether it changed.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	was := m.online
	if was == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	m.changedAt = time.Now()
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{
		"was_online": was,
		"is_online":  online,
	})
	if online {
		for _, fn := range listeners {
			fn()
		}
	}
	return true
}

// Poll probes the backend once and records the result.
func (m *Monitor) Poll(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	online := m.prober.CheckReachable(probeCtx)
	cancel()

	if ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the network.
		return m.Online()
	}
	m.SetOnline(online)
	return online
}
