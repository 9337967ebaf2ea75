package provider

import "sync"

// Registry holds all registered notifier adapters keyed by name.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[Name]Notifier
}

// NewRegistry creates an empty notifier registry.
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[Name]Notifier),
	}
}

// Register adds a notifier to the registry, replacing any previous adapter
// with the same name.
func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

// Get returns a notifier by name, or nil if not registered.
func (r *Registry) Get(name Name) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// Names returns the registered provider names, known providers first in
// display order.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []Name
	seen := make(map[Name]bool, len(r.notifiers))
	for _, name := range AllNames() {
		if _, ok := r.notifiers[name]; ok {
			result = append(result, name)
			seen[name] = true
		}
	}
	for name := range r.notifiers {
		if !seen[name] {
			result = append(result, name)
		}
	}
	return result
}
