// Package notify routes refresh notifications for stale logical keys to the
// in-process component responsible for recomputing them. The core only
// delivers an opaque handler identifier; resolving it is up to the host.
package notify

import "sync"

// Registry maps logical keys to handler identifiers. Bindings are never
// removed automatically.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]string)}
}

// Register binds key to handlerID, replacing any previous binding.
func (r *Registry) Register(key, handlerID string) {
	r.mu.Lock()
	r.handlers[key] = handlerID
	r.mu.Unlock()
}

// Lookup returns the handler bound to key.
func (r *Registry) Lookup(key string) (string, bool) {
	r.mu.RLock()
	id, ok := r.handlers[key]
	r.mu.RUnlock()
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
