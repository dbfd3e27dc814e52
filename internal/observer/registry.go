package observer

import "sync"

// Ack is the liveness acknowledgement returned for an active observer.
const Ack = "active"

// Key identifies one frame of one tab.
type Key struct {
	Tab   string
	Frame int
}

// Registry holds at most one Observer per frame. It is the guard consulted
// before an observer is installed.
type Registry struct {
	mu        sync.Mutex
	observers map[Key]*Observer
}

func NewRegistry() *Registry {
	return &Registry{observers: map[Key]*Observer{}}
}

// Activate installs an observer for key. When one is already active the call
// is a no-op and returns false.
func (r *Registry) Activate(key Key, sink Sink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[key]; ok {
		return false
	}
	r.observers[key] = New(key.Frame, sink)
	return true
}

// Ping returns Ack when an observer is active for key.
func (r *Registry) Ping(key Key) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.observers[key]; ok {
		return Ack, true
	}
	return "", false
}

// Dispatch routes ev to the observer for key. Events for unknown frames are dropped.
func (r *Registry) Dispatch(key Key, ev RawEvent) bool {
	r.mu.Lock()
	o := r.observers[key]
	r.mu.Unlock()
	if o == nil {
		return false
	}
	o.Handle(ev)
	return true
}

// Deactivate removes the observer for key.
func (r *Registry) Deactivate(key Key) {
	r.mu.Lock()
	delete(r.observers, key)
	r.mu.Unlock()
}

// DeactivateTab removes every observer of tab.
func (r *Registry) DeactivateTab(tab string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.observers {
		if k.Tab == tab {
			delete(r.observers, k)
		}
	}
}

// Len returns the number of active observers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}
