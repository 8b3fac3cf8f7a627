// Package skippolicy provides reusable timechain/pkg/domain.SkipPolicy
// values and a small registry for wiring them up by name.
package skippolicy

import "timechain/pkg/domain"

// Registry looks up named skip policies. The zero value is usable; use
// DefaultRegistry to get one pre-populated with the built-ins.
type Registry struct {
	policies map[string]domain.SkipPolicy
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]domain.SkipPolicy)}
}

// Register adds or replaces a named policy.
func (r *Registry) Register(name string, policy domain.SkipPolicy) {
	if r.policies == nil {
		r.policies = make(map[string]domain.SkipPolicy)
	}
	r.policies[name] = policy
}

// Lookup returns the named policy, if registered.
func (r *Registry) Lookup(name string) (domain.SkipPolicy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// Names returns the registered policy names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for n := range r.policies {
		names = append(names, n)
	}
	return names
}
