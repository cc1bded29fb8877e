package tools

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry is a mutable, thread-safe Source. The builtin and custom
// tool sets are each a Registry; remote bridges implement Source
// directly over their live connections.
type Registry struct {
	mu     sync.RWMutex
	kind   SourceKind
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry for the given source kind.
func NewRegistry(kind SourceKind, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		kind:   kind,
		tools:  make(map[string]Tool),
		logger: logger.With("component", "tool-registry", "source", string(kind)),
	}
}

// Kind returns the registry's source kind.
func (r *Registry) Kind() SourceKind { return r.kind }

// Register adds a tool. Registering a name twice within one source is
// a configuration error.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = t
	r.logger.Debug("tool registered", "tool", def.Name)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns all registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition().Name < out[j].Definition().Name
	})
	return out
}
