// Package registry maintains the in-memory view of configured identity
// providers and reconciles it against the persistent store.
//
// The request path reads the registry on every call, so it is kept as a
// single immutable snapshot behind an atomically swapped pointer: readers
// never block and never observe a partially updated index. The refresh loop
// is the only writer; it builds a complete new snapshot off to the side and
// swaps it in one step.
package registry

import (
	"sync/atomic"

	"vibegate/internal/domain"
)

// snapshot is one immutable generation of the provider index.
type snapshot struct {
	byIssuer  map[string]*domain.ProviderRecord
	byKey     map[string]*domain.ProviderRecord
	providers []*domain.ProviderRecord
}

func newSnapshot(providers []*domain.ProviderRecord) *snapshot {
	s := &snapshot{
		byIssuer:  make(map[string]*domain.ProviderRecord, len(providers)),
		byKey:     make(map[string]*domain.ProviderRecord, len(providers)),
		providers: providers,
	}
	for _, p := range providers {
		s.byIssuer[p.Issuer] = p
		s.byKey[p.Key] = p
	}
	return s
}

// Registry is the concurrently readable provider index.
type Registry struct {
	current atomic.Pointer[snapshot]
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(newSnapshot(nil))
	return r
}

// GetByIssuer looks up a provider by its issuer string. This is the only
// lookup the provider selector performs on the request path.
func (r *Registry) GetByIssuer(issuer string) (*domain.ProviderRecord, bool) {
	p, ok := r.current.Load().byIssuer[issuer]
	return p, ok
}

// GetByKey looks up a provider by its stable key.
func (r *Registry) GetByKey(key string) (*domain.ProviderRecord, bool) {
	p, ok := r.current.Load().byKey[key]
	return p, ok
}

// All returns every provider in the current snapshot. The returned slice and
// the records it points to must be treated as read-only.
func (r *Registry) All() []*domain.ProviderRecord {
	return r.current.Load().providers
}

// Replace swaps in a new snapshot built from the given providers. Records
// are owned by the caller and must not be mutated after the call.
func (r *Registry) Replace(providers []*domain.ProviderRecord) {
	r.current.Store(newSnapshot(providers))
}
