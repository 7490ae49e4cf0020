package breaker

import (
	"log"
	"sync"
	"time"
)

// Registry owns the breakers for all known sources, keyed by source
// name. It is an explicit value passed to whoever needs it; there is no
// package-global instance.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use cfg as defaults.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		defaults: cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for name, creating a closed one with
// the registry defaults on first use.
func (r *Registry) GetOrCreate(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = New(name, r.defaults)
		r.breakers[name] = b
	}
	return b
}

// Get returns the breaker for name if one exists.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Stats returns a snapshot per known breaker.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	names := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		names = append(names, b)
	}
	r.mu.Unlock()

	out := make(map[string]Stats, len(names))
	for _, b := range names {
		s := b.Stats()
		out[s.Name] = s
	}
	return out
}

// ResetAll closes every breaker and clears failure counts.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
	log.Printf("[breaker] reset %d breakers", len(breakers))
}

// EvictInactive removes breakers whose last completed call is older
// than maxAge, returning how many were dropped. Breakers that have
// never completed a call are kept.
func (r *Registry) EvictInactive(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	evicted := 0
	for name, b := range r.breakers {
		last := b.lastActivity()
		if !last.IsZero() && last.Before(cutoff) {
			delete(r.breakers, name)
			evicted++
		}
	}
	if evicted > 0 {
		log.Printf("[breaker] evicted %d inactive breakers", evicted)
	}
	return evicted
}

// Len returns the number of registered breakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}
