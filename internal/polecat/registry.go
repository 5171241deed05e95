package polecat

import (
	"fmt"
	"sync"

	"github.com/jordanhubbard/rigs/pkg/models"
)

// Registry holds one Adapter per configured provider. Adapters are
// replaced in-place on Upsert so any goroutine holding a *Registry sees
// config reloads immediately.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Provider]Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.Provider]Adapter)}
}

// Register adds an adapter for provider, failing if one is already present.
func (r *Registry) Register(p models.Provider, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[p]; exists {
		return fmt.Errorf("polecat: provider %s already registered", p)
	}
	r.adapters[p] = a
	return nil
}

// Upsert adds or replaces the adapter for provider.
func (r *Registry) Upsert(p models.Provider, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[p] = a
}

// Get returns the adapter for provider, if any.
func (r *Registry) Get(p models.Provider) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Providers returns the set of registered providers, in no particular order.
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	return out
}
