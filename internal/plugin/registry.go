package plugin

import (
	"context"
	"fmt"
	"sync"
)

// Registry maps kinds to handler capabilities. It is populated during
// startup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

// NewRegistry builds a registry from the provided handlers.
func NewRegistry(handlers map[Kind]Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[Kind]Handler, len(handlers))}
	for kind, handler := range handlers {
		if err := r.Register(kind, handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewPassthroughRegistry registers the passthrough handler for every kind.
func NewPassthroughRegistry() *Registry {
	r := &Registry{handlers: make(map[Kind]Handler, len(catalog))}
	for _, kind := range Kinds() {
		r.handlers[kind] = Passthrough{Kind: kind}
	}
	return r
}

// Register binds handler to kind, replacing any previous binding.
func (r *Registry) Register(kind Kind, handler Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("register handler: unknown step kind %q", kind)
	}
	if handler == nil {
		return fmt.Errorf("register handler: nil handler for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	return nil
}

// Lookup returns the handler bound to kind.
func (r *Registry) Lookup(kind Kind) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Health reports readiness for every registered kind in catalog order.
func (r *Registry) Health(ctx context.Context) []Health {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	bound := make([]Handler, 0, len(r.handlers))
	names := make([]Kind, 0, len(r.handlers))
	for _, kind := range Kinds() {
		if h, ok := r.handlers[kind]; ok {
			bound = append(bound, h)
			names = append(names, kind)
		}
	}
	r.mu.RUnlock()

	out := make([]Health, 0, len(bound))
	for i, h := range bound {
		health := h.HealthCheck(ctx)
		if health.Name == "" {
			health.Name = string(names[i])
		}
		out = append(out, health)
	}
	return out
}
