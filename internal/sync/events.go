package sync

import "time"

// EventType names a sync notification.
type EventType string

const (
	EventSyncStarted      EventType = "sync.started"
	EventSyncCompleted    EventType = "sync.completed"
	EventSyncFailed       EventType = "sync.failed"
	EventConflictDetected EventType = "sync.conflict_detected"
	EventQueueChanged     EventType = "queue.changed"
)

// SyncEvent is delivered to the event handler.
type SyncEvent struct {
	Type EventType   `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// SyncEventHandler receives sync notifications. Handlers run on the
// goroutine that raised the event and must not block.
type SyncEventHandler interface {
	HandleSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// HandleSyncEvent calls f.
func (f SyncEventHandlerFunc) HandleSyncEvent(event SyncEvent) {
	f(event)
}

// SetEventHandler sets the event handler. A nil handler disables events.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	e.handler = handler
	e.mu.Unlock()
}

func (e *SyncEngine) emit(typ EventType, data interface{}) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler == nil {
		return
	}
	handler.HandleSyncEvent(SyncEvent{Type: typ, Time: e.now(), Data: data})
}
