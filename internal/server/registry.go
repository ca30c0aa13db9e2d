package server

import (
	"hash/fnv"
	"sync"
)

// Registry is the shared worker registry used by the acceptor. It is the
// only cross-worker structure on the accept path: many readers pick and
// iterate workers while a writer adds or removes one rarely, so access
// goes through a read-biased RWMutex and readers never block each other.
type Registry struct {
	mu      sync.RWMutex
	workers []*Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a worker.
func (r *Registry) Add(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// Remove deregisters a worker. Unknown workers are ignored.
func (r *Registry) Remove(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.workers {
		if existing == w {
			r.workers = append(r.workers[:i], r.workers[i+1:]...)
			return
		}
	}
}

// Pick selects the worker for a routing key by hashing the key over the
// current worker set, giving every key a stable worker and therefore at
// most one upstream connection per key. Returns nil when no workers are
// registered.
func (r *Registry) Pick(key string) *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.workers) == 0 {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return r.workers[h.Sum32()%uint32(len(r.workers))]
}

// ForEach invokes fn for every registered worker.
func (r *Registry) ForEach(fn func(*Worker)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.workers {
		fn(w)
	}
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
