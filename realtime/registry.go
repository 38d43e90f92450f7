package realtime

import (
	"encoding/json"
	"sync"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
)

// Handler processes the payload of one realtime event.
type Handler func(payload json.RawMessage)

type handlerEntry struct {
	id int64
	fn Handler
}

// Registry maps event names to ordered handler lists. Dispatch runs handlers
// in registration order, outside the registry lock, and isolates panics so
// one misbehaving subscriber cannot starve the rest.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int64
	log      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewDefault("realtime")
	}
	return &Registry{
		handlers: make(map[string][]handlerEntry),
		log:      log,
	}
}

// On registers fn for the named event and returns an unsubscribe function
// that removes exactly this registration. Calling it more than once is safe.
func (r *Registry) On(event string, fn Handler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.handlers[event] = append(r.handlers[event], handlerEntry{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		entries := r.handlers[event]
		for i, h := range entries {
			if h.id == id {
				r.handlers[event] = append(entries[:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Off removes every handler for the named event.
func (r *Registry) Off(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, event)
}

// Clear removes all handlers for all events.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]handlerEntry)
}

// HandlerCount returns how many handlers are registered for event.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Dispatch delivers payload to every handler registered for event.
func (r *Registry) Dispatch(event string, payload json.RawMessage) {
	r.mu.RLock()
	entries := make([]handlerEntry, len(r.handlers[event]))
	copy(entries, r.handlers[event])
	r.mu.RUnlock()

	if len(entries) == 0 {
		return
	}
	metrics.RecordRealtimeEvent(event)

	// Handlers run outside the lock so they may subscribe or unsubscribe.
	for _, h := range entries {
		r.invoke(event, h.fn, payload)
	}
}

// invoke runs one handler, recovering a panic so the rest still run.
func (r *Registry) invoke(event string, fn Handler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithField("event", event).
				WithField("panic", rec).
				Error("event handler panicked")
		}
	}()
	fn(payload)
}
