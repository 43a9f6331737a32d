package replication

import "sync"

// Registry is the set of replica addresses known to a master.
// Connection handlers insert, the propagation worker takes snapshots; both
// hold the lock only for the set operation itself.
type Registry struct {
	mu    sync.Mutex
	addrs map[string]struct{}
	order []string // insertion order, used for snapshots
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		addrs: make(map[string]struct{}),
	}
}

// Insert adds addr and reports whether it was not already present.
// Inserting an existing address is a no-op.
func (r *Registry) Insert(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.addrs[addr]; exists {
		return false
	}
	r.addrs[addr] = struct{}{}
	r.order = append(r.order, addr)
	return true
}

// Snapshot returns the registered addresses in insertion order.
// The slice is a copy and may be used after the lock is released.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered replicas
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

// Contains reports whether addr is registered
func (r *Registry) Contains(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.addrs[addr]
	return exists
}
