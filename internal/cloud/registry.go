package cloud

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the ordered set of point buffers owned by one manager.
// It is created by its owner and passed by reference to anything that needs
// to enumerate clouds.
type Registry struct {
	mu     sync.RWMutex
	clouds []*PointBuffer
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers b. It returns false if b is nil or already registered.
func (r *Registry) Add(b *PointBuffer) bool {
	if b == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clouds {
		if c.ID() == b.ID() {
			return false
		}
	}
	r.clouds = append(r.clouds, b)
	return true
}

// Remove unregisters the buffer with the given id and returns it.
func (r *Registry) Remove(id uuid.UUID) (*PointBuffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.clouds {
		if c.ID() == id {
			r.clouds = append(r.clouds[:i:i], r.clouds[i+1:]...)
			return c, true
		}
	}
	return nil, false
}

// Get returns the buffer with the given id.
func (r *Registry) Get(id uuid.UUID) (*PointBuffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clouds {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// All returns a snapshot of the registered buffers in registration order.
func (r *Registry) All() []*PointBuffer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PointBuffer, len(r.clouds))
	copy(out, r.clouds)
	return out
}

// Len returns the number of registered buffers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clouds)
}

// Clear unregisters every buffer and returns them in registration order.
func (r *Registry) Clear() []*PointBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.clouds
	r.clouds = nil
	return out
}
