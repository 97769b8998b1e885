package policy

import (
	"strings"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// Registry holds all exit policies, keyed by lower-case name.
type Registry struct {
	byName   map[string]ExitPolicy
	policies []ExitPolicy
	fallback ExitPolicy
}

// NewRegistry creates a registry with the default policies.
// Unknown names resolve to the exit policy.
func NewRegistry() *Registry {
	exit := NewExitPolicy()
	return NewRegistryWithPolicies(exit, NewRestartPolicy(), NewEnterDesktopPolicy(), exit)
}

// NewRegistryWithPolicies creates a registry with custom policies (for testing).
func NewRegistryWithPolicies(fallback ExitPolicy, policies ...ExitPolicy) *Registry {
	r := &Registry{
		byName:   make(map[string]ExitPolicy),
		fallback: fallback,
	}
	for _, p := range policies {
		r.Register(p)
	}
	return r
}

// Register adds a policy under all of its names.
func (r *Registry) Register(p ExitPolicy) {
	r.policies = append(r.policies, p)
	for _, name := range p.Names() {
		r.byName[strings.ToLower(name)] = p
	}
}

// Resolve returns the policy selected by name. known is false when the name
// matched nothing and the fallback was returned.
func (r *Registry) Resolve(name string) (p ExitPolicy, known bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return r.fallback, false
	}
	return p, true
}

// Action is shorthand for Resolve(name).Action().
func (r *Registry) Action(name string) domain.ExitAction {
	p, _ := r.Resolve(name)
	return p.Action()
}

// GetAll returns all registered policies in registration order.
func (r *Registry) GetAll() []ExitPolicy {
	return append([]ExitPolicy(nil), r.policies...)
}
