package engine

import (
	"context"
	"sort"

	"github.com/ordinalworks/chainweave/internal/model"
)

// HandlerFunc is the user-code callback invoked once per event whose Name
// matches its registration.
type HandlerFunc func(ctx context.Context, event model.Event, ectx Context) error

// Registry is the dynamic handler map keyed by interned event name (e.g.
// "ERC20:Transfer"), giving O(1) dispatch per SPEC_FULL.md §9.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds name to fn. A later call with the same name replaces it.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.handlers[name] = fn
}

// Lookup returns the handler bound to name, if any.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns every registered handler name in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
