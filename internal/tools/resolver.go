package tools

import (
	"fmt"
	"sync"
)

// Resolver unifies heterogeneous tool sources behind one lookup. A name
// resolves against sources in fixed priority order (builtin, custom,
// remote), so a remote tool can never shadow a builtin of the same
// name.
type Resolver struct {
	mu      sync.RWMutex
	sources map[SourceKind][]Source
}

// NewResolver creates a resolver over the given sources.
func NewResolver(sources ...Source) *Resolver {
	r := &Resolver{sources: make(map[SourceKind][]Source)}
	for _, s := range sources {
		r.AddSource(s)
	}
	return r
}

// AddSource registers a source. Multiple sources of the same kind are
// consulted in registration order.
func (r *Resolver) AddSource(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Kind()] = append(r.sources[s.Kind()], s)
}

// Resolve returns the highest-priority tool with the given name along
// with the kind of the source that provided it.
func (r *Resolver) Resolve(name string) (Tool, SourceKind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, kind := range sourcePriority {
		for _, src := range r.sources[kind] {
			if t, ok := src.Lookup(name); ok {
				return t, kind, nil
			}
		}
	}
	return nil, "", fmt.Errorf("unknown tool %q", name)
}

// Definitions lists every resolvable tool definition, shadowed names
// appearing once under their winning source.
func (r *Resolver) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var defs []Definition
	for _, kind := range sourcePriority {
		for _, src := range r.sources[kind] {
			for _, t := range src.Tools() {
				def := t.Definition()
				if _, dup := seen[def.Name]; dup {
					continue
				}
				seen[def.Name] = struct{}{}
				defs = append(defs, def)
			}
		}
	}
	return defs
}
