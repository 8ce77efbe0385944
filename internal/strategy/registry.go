package strategy

import "fmt"

// Factory constructs a Strategy instance from a validated params map.
type Factory func(id string, symbols []string, params map[string]any) (Strategy, error)

// ParamSchema validates a strategy's config params before construction.
// Returning a non-nil error rejects the whole strategy at load time rather
// than failing on the first bar.
type ParamSchema func(params map[string]any) error

type registration struct {
	factory Factory
	schema  ParamSchema
}

// Registry is the sealed set of strategy implementations a running engine
// can dispatch to by name, matching the "dynamic dispatch over a known,
// validated set" design called for by the configuration-driven strategy
// selection.
type Registry struct {
	entries map[string]registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds a strategy implementation under name. Re-registering a name
// overwrites the previous entry.
func (r *Registry) Register(name string, factory Factory, schema ParamSchema) {
	r.entries[name] = registration{factory: factory, schema: schema}
}

// New constructs a strategy by name, validating params against its schema
// first.
func (r *Registry) New(name, id string, symbols []string, params map[string]any) (Strategy, error) {
	entry, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy %q", name)
	}
	if entry.schema != nil {
		if err := entry.schema(params); err != nil {
			return nil, fmt.Errorf("strategy: invalid params for %q: %w", name, err)
		}
	}
	return entry.factory(id, symbols, params)
}

// Names returns every registered strategy name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
