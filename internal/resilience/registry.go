package resilience

import (
	"sort"
	"sync"
)

// CircuitBreakerRegistry lazily builds one breaker per upstream method from
// a shared config.
type CircuitBreakerRegistry struct {
	cfg      CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(cfg CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, r.cfg)
		r.breakers[name] = cb
	}
	return cb
}

// AllStats returns every breaker's stats sorted by name.
func (r *CircuitBreakerRegistry) AllStats() []CircuitBreakerStats {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	stats := make([]CircuitBreakerStats, len(list))
	for i, cb := range list {
		stats[i] = cb.Stats()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ResetAll closes every breaker.
func (r *CircuitBreakerRegistry) ResetAll() {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	for _, cb := range list {
		cb.Reset()
	}
}
