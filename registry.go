package payflow

import "sync"

// registry is a process-wide keyed store of session state. The outer mutex
// guards structural mutation (insert/delete); each entry carries its own
// mutex so transitions against one session are serialized while sessions
// with different ids proceed in parallel.
//
// Entries are never expired automatically. A session lives until it is
// explicitly cancelled.
type registry[T any] struct {
	mu      sync.Mutex
	entries map[string]*registryEntry[T]
}

type registryEntry[T any] struct {
	mu    sync.Mutex
	state *T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{
		entries: make(map[string]*registryEntry[T]),
	}
}

// put inserts or replaces the state stored under id.
func (r *registry[T]) put(id string, state *T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		entry.mu.Lock()
		entry.state = state
		entry.mu.Unlock()
		return
	}
	r.entries[id] = &registryEntry[T]{state: state}
}

// delete removes the entry for id, reporting whether it existed.
func (r *registry[T]) delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// len reports the number of live entries.
func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// withEntry runs fn with the entry's lock held, serializing all transitions
// against the same session id. Returns false if the id is unknown; fn is
// not called in that case.
func (r *registry[T]) withEntry(id string, fn func(state *T)) bool {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.state)
	return true
}
