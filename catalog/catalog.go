// Package catalog is the in-memory registry of available actions: name to
// descriptor plus handler. Registration is explicit, happens at startup and
// is last-write-wins on name collision. A reload clears and rebuilds the
// registry wholesale.
package catalog

import (
	"sync"

	"github.com/kettleops/kettle"
)

// Registry maps action names to registered actions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]kettle.Action
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{actions: make(map[string]kettle.Action)}
}

// Register adds an action. A missing queue defaults to kettle.DefaultQueue.
// Re-registering a name replaces the previous entry.
func (r *Registry) Register(a kettle.Action) {
	if a.Queue == "" {
		a.Queue = kettle.DefaultQueue
	}
	r.mu.Lock()
	r.actions[a.Name] = a
	r.mu.Unlock()
}

// Unregister removes an action by name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.actions, name)
	r.mu.Unlock()
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (kettle.Action, bool) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	return a, ok
}

// All returns the descriptors of every registered action, keyed by name.
// Handlers are not exposed.
func (r *Registry) All() map[string]kettle.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]kettle.Descriptor, len(r.actions))
	for name, a := range r.actions {
		out[name] = a.Descriptor
	}
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// Reload clears the registry and re-registers through each provided
// registration function.
func (r *Registry) Reload(register ...func(*Registry)) {
	r.mu.Lock()
	r.actions = make(map[string]kettle.Action)
	r.mu.Unlock()
	for _, fn := range register {
		fn(r)
	}
}
