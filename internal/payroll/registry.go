package payroll

import "sort"

// Registry maps payment-method identifiers to their strategies. It is built
// once at startup and injected; there is no process-wide mutable table.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry constructs a Registry over a fixed strategy set.
func NewRegistry(strategies ...Strategy) *Registry {
	m := make(map[string]Strategy, len(strategies))
	for _, s := range strategies {
		m[s.Method()] = s
	}
	return &Registry{strategies: m}
}

// Resolve returns the strategy handling the payment method, if any.
func (r *Registry) Resolve(method string) (Strategy, bool) {
	s, ok := r.strategies[method]
	return s, ok
}

// Methods lists the registered payment-method identifiers.
func (r *Registry) Methods() []string {
	out := make([]string, 0, len(r.strategies))
	for method := range r.strategies {
		out = append(out, method)
	}
	sort.Strings(out)
	return out
}
