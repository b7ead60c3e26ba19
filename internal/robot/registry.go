package robot

import "sync"

// Registry enforces that at most one controller drives the hardware at a time.
type Registry struct {
	mu   sync.Mutex
	live bool
}

// DefaultRegistry is the process-wide registry used unless WithRegistry is
// given.
var DefaultRegistry = &Registry{}

// Acquire claims the registry or returns ErrAlreadyExists.
func (r *Registry) Acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live {
		return ErrAlreadyExists
	}
	r.live = true
	return nil
}

// Release frees the registry unconditionally.
func (r *Registry) Release() {
	r.mu.Lock()
	r.live = false
	r.mu.Unlock()
}

// Live reports whether a controller currently holds the registry.
func (r *Registry) Live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Reset is Release under a name that reads better in test setup.
func (r *Registry) Reset() {
	r.Release()
}
