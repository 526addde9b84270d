package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// Registry is the immutable set of loaded providers. It is safe for
// concurrent use without locking.
type Registry struct {
	loadOrder  []*Provider
	byPriority []*Provider
	byID       map[string]*Provider
}

// Load validates defs in order and builds a Registry. A definition that
// fails validation, or whose id was already loaded, is skipped with a
// *ConfigError; the remaining providers still load. The returned error joins
// every ConfigError and is nil when all definitions loaded.
func Load(defs []Definition) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Provider, len(defs))}

	var errs []error
	for _, def := range defs {
		p, err := compile(def)
		if err != nil {
			errs = append(errs, &ConfigError{Provider: def.Provider.ID, Source: def.Source, Err: err})
			continue
		}
		if prev, dup := r.byID[p.ID]; dup {
			err := fmt.Errorf("%w (first loaded from %s)", ErrDuplicateProvider, sourceName(prev.Source))
			errs = append(errs, &ConfigError{Provider: p.ID, Source: def.Source, Err: err})
			continue
		}
		r.byID[p.ID] = p
		r.loadOrder = append(r.loadOrder, p)
		slog.Debug("loaded provider", "id", p.ID, "priority", p.Priority, "enabled", p.Enabled)
	}

	r.byPriority = slices.Clone(r.loadOrder)
	sort.SliceStable(r.byPriority, func(i, j int) bool {
		return r.byPriority[i].Priority > r.byPriority[j].Priority
	})

	return r, errors.Join(errs...)
}

func sourceName(s string) string {
	if s == "" {
		return "<inline>"
	}
	return s
}

// ByPriority returns all providers ordered by descending priority; equal
// priorities keep load order. Disabled providers are included.
func (r *Registry) ByPriority() []*Provider {
	return slices.Clone(r.byPriority)
}

// All returns all providers in load order.
func (r *Registry) All() []*Provider {
	return slices.Clone(r.loadOrder)
}

// Find returns the provider with the given id.
func (r *Registry) Find(id string) (*Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Len returns the number of loaded providers.
func (r *Registry) Len() int { return len(r.loadOrder) }
