package step

import (
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateStep indicates two factories produced the same step id.
type ErrDuplicateStep struct {
	ID string
}

func (e *ErrDuplicateStep) Error() string {
	return fmt.Sprintf("duplicate step id %s", e.ID)
}

// ErrStepNotFound is returned by Lookup for unregistered ids.
type ErrStepNotFound struct {
	ID       string
	ValidIDs []string
}

func (e *ErrStepNotFound) Error() string {
	return fmt.Sprintf("unknown step %s (registered: %s)", e.ID, strings.Join(e.ValidIDs, ", "))
}

type entry struct {
	def     Definition
	factory Factory
}

// Registry maps step ids to factories. It is immutable once built, so it is
// safe for concurrent lookups without locking.
type Registry struct {
	order   []string
	entries map[string]entry
}

// NewRegistry instantiates each factory once, without a client, to read its
// definition. Empty or duplicate ids are rejected.
func NewRegistry(factories ...Factory) (*Registry, error) {
	r := &Registry{
		order:   make([]string, 0, len(factories)),
		entries: make(map[string]entry, len(factories)),
	}
	for i, f := range factories {
		if f == nil {
			return nil, fmt.Errorf("step factory %d is nil", i)
		}
		def := f(nil).Definition()
		if def.ID == "" {
			return nil, fmt.Errorf("step factory %d returned an empty id", i)
		}
		if _, exists := r.entries[def.ID]; exists {
			return nil, &ErrDuplicateStep{ID: def.ID}
		}
		r.entries[def.ID] = entry{def: def, factory: f}
		r.order = append(r.order, def.ID)
	}
	return r, nil
}

// Lookup returns the factory and definition registered for id.
func (r *Registry) Lookup(id string) (Factory, Definition, error) {
	e, ok := r.entries[id]
	if !ok {
		valid := append([]string(nil), r.order...)
		sort.Strings(valid)
		return nil, Definition{}, &ErrStepNotFound{ID: id, ValidIDs: valid}
	}
	return e.factory, e.def, nil
}

// Definitions returns every step definition in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, len(r.order))
	for i, id := range r.order {
		defs[i] = r.entries[id].def
	}
	return defs
}

// Len returns the number of registered steps.
func (r *Registry) Len() int { return len(r.order) }
