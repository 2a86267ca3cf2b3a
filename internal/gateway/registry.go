package gateway

import (
	"tripbook/pkg/utils"
)

// Registry is the closed mapping from payment method to adapter. It is
// built once at startup; there is no dynamic lookup by name anywhere else.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Get resolves a payment method to its adapter.
func (r *Registry) Get(method string) (Adapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, utils.NewError(utils.CodeInvalidParam, "unknown payment method: "+method)
	}
	return a, nil
}

// Names lists the registered payment methods.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
