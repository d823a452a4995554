package resolve

import "sync"

// Registry maps collections to resolution strategies. Collections without
// an explicit strategy use the fallback.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

// NewRegistry creates a registry with the given fallback strategy.
func NewRegistry(fallback Strategy) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		fallback:   fallback,
	}
}

// Register sets the strategy for a collection, replacing any previous one.
func (r *Registry) Register(collection string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[collection] = s
}

// For returns the strategy for a collection.
func (r *Registry) For(collection string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[collection]; ok {
		return s
	}
	return r.fallback
}
