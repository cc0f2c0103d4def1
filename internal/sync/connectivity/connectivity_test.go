package connectivity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type stubProber struct {
	reachable atomic.Bool
	calls     atomic.Int32
}

func (p *stubProber) CheckReachable(ctx context.Context) bool {
	p.calls.Add(1)
	return p.reachable.Load()
}

// TestMonitor_startsOnline verifies the initial assumption.
func TestMonitor_startsOnline(t *testing.T) {
	m := New(nil, 0)
	if !m.Online() {
		t.Error("Online() = false, want true")
	}
	if m.Poll(context.Background()) != true {
		t.Error("Poll() without a prober should keep the current state")
	}
}

// TestMonitor_regainFiresOnEdgeOnly verifies OnRegain runs on offline to online transitions.
func TestMonitor_regainFiresOnEdgeOnly(t *testing.T) {
	m := New(nil, 0)
	var regained int
	m.OnRegain(func() { regained++ })

	if m.SetOnline(true) {
		t.Error("SetOnline(true) while online reported a change")
	}
	if !m.SetOnline(false) {
		t.Error("SetOnline(false) did not report a change")
	}
	if m.Online() {
		t.Error("Online() = true after SetOnline(false)")
	}
	m.SetOnline(true)
	m.SetOnline(true)

	if regained != 1 {
		t.Errorf("regain callbacks = %d, want 1", regained)
	}
}

// TestMonitor_poll verifies probe results are recorded.
func TestMonitor_poll(t *testing.T) {
	p := &stubProber{}
	m := New(p, time.Second)
	var regained atomic.Int32
	m.OnRegain(func() { regained.Add(1) })

	if m.Poll(context.Background()) {
		t.Error("Poll() = true for unreachable backend")
	}
	if m.Online() {
		t.Error("Online() = true after failed probe")
	}

	p.reachable.Store(true)
	if !m.Poll(context.Background()) {
		t.Error("Poll() = false for reachable backend")
	}
	if regained.Load() != 1 {
		t.Errorf("regain callbacks = %d, want 1", regained.Load())
	}
	if p.calls.Load() != 2 {
		t.Errorf("probe calls = %d, want 2", p.calls.Load())
	}
}

// TestMonitor_pollCancelled verifies a cancelled probe leaves the state alone.
func TestMonitor_pollCancelled(t *testing.T) {
	p := &stubProber{}
	m := New(p, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !m.Poll(ctx) {
		t.Error("Poll() with cancelled context changed the state")
	}
	if !m.Online() {
		t.Error("Online() = false after cancelled probe")
	}
}
