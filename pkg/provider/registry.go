package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps a provider name to the factory that builds it.
type Registry[F any] struct {
	providers map[string]F
	mu        sync.RWMutex
}

func NewRegistry[F any]() *Registry[F] {
	return &Registry[F]{
		providers: make(map[string]F),
	}
}

func (r *Registry[F]) Register(name string, factory F) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("provider %s already registered", name))
	}

	r.providers[name] = factory
}

func (r *Registry[F]) Get(name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.providers[name]
	return factory, exists
}

func (r *Registry[F]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
