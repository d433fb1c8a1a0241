package realtime

import (
	"encoding/json"
	"sort"
	"sync"
)

// Handler receives the data of an inbound envelope. All handlers registered
// for a type receive the same slice and must not modify it.
type Handler func(data json.RawMessage)

// registry maps message types to their registered handlers.
type registry struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
}

func newRegistry() *registry {
	return &registry{
		handlers: make(map[string]map[uint64]Handler),
	}
}

// add registers h under msgType and returns an idempotent removal func.
func (r *registry) add(msgType string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	set, ok := r.handlers[msgType]
	if !ok {
		set = make(map[uint64]Handler)
		r.handlers[msgType] = set
	}
	set[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(msgType, id) })
	}
}

func (r *registry) remove(msgType string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.handlers[msgType]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.handlers, msgType)
	}
}

// snapshot copies the handlers for msgType so dispatch runs without the lock.
func (r *registry) snapshot(msgType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.handlers[msgType]
	if len(set) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

func (r *registry) count(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[msgType])
}

// types returns the registered message types in sorted order.
func (r *registry) types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
