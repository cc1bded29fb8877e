package hooks

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry manages hook registrations per extension point. Registration
// and removal are administrative operations serialized by the registry's
// lock; execution takes a snapshot so in-flight pipelines are unaffected
// by concurrent mutation.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ExtensionPoint][]*Registration
	byID     map[string]*Registration
	plugins  []Plugin
	nextSeq  uint64
	logger   *slog.Logger
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[ExtensionPoint][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) {
		r.Priority = p
	}
}

// WithName sets the handler name for debugging.
func WithName(name string) RegisterOption {
	return func(r *Registration) {
		r.Name = name
	}
}

// WithSource sets the handler source (plugin name, etc).
func WithSource(source string) RegisterOption {
	return func(r *Registration) {
		r.Source = source
	}
}

// Once removes the registration after its first execution.
func Once() RegisterOption {
	return func(r *Registration) {
		r.Once = true
	}
}

// Register adds a handler at an extension point and returns the
// registration ID for later removal.
func (r *Registry) Register(point ExtensionPoint, handler Handler, opts ...RegisterOption) (string, error) {
	if !validPoint(point) {
		return "", fmt.Errorf("unknown extension point: %q", point)
	}
	if handler == nil {
		return "", fmt.Errorf("nil handler for extension point %q", point)
	}

	reg := &Registration{
		ID:       uuid.New().String(),
		Point:    point,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg.seq = r.nextSeq
	r.nextSeq++

	r.handlers[point] = append(r.handlers[point], reg)
	r.byID[reg.ID] = reg
	sortRegistrations(r.handlers[point])

	r.logger.Debug("registered hook",
		"id", reg.ID,
		"point", point,
		"name", reg.Name,
		"priority", reg.Priority)

	return reg.ID, nil
}

// RegisterPlugin initializes a plugin and registers all its handlers.
// A plugin implementing zero extension points is a configuration error.
func (r *Registry) RegisterPlugin(plugin Plugin, config map[string]any, opts ...RegisterOption) ([]string, error) {
	if plugin == nil {
		return nil, fmt.Errorf("nil plugin")
	}

	points := plugin.Hooks()
	if len(points) == 0 {
		return nil, fmt.Errorf("plugin %q implements no extension points", plugin.Name())
	}
	for point := range points {
		if !validPoint(point) {
			return nil, fmt.Errorf("plugin %q registers unknown extension point %q", plugin.Name(), point)
		}
	}

	if err := plugin.Initialize(config); err != nil {
		return nil, fmt.Errorf("initialize plugin %q: %w", plugin.Name(), err)
	}

	// Stable order across the map's points.
	ordered := make([]ExtensionPoint, 0, len(points))
	for _, point := range ExtensionPoints {
		if _, ok := points[point]; ok {
			ordered = append(ordered, point)
		}
	}

	ids := make([]string, 0, len(ordered))
	for _, point := range ordered {
		id, err := r.Register(point, points[point], append(opts, WithSource(plugin.Name()))...)
		if err != nil {
			for _, registered := range ids {
				r.Unregister(registered)
			}
			return nil, err
		}
		ids = append(ids, id)
	}

	r.mu.Lock()
	r.plugins = append(r.plugins, plugin)
	r.mu.Unlock()

	return ids, nil
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id string) bool {
	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)

	handlers := r.handlers[reg.Point]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[reg.Point] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// registrationsFor returns a snapshot of the ordered handlers at a point.
func (r *Registry) registrationsFor(point ExtensionPoint) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handlers := r.handlers[point]
	snapshot := make([]*Registration, len(handlers))
	copy(snapshot, handlers)
	return snapshot
}

// HandlerCount returns the number of handlers at an extension point.
func (r *Registry) HandlerCount(point ExtensionPoint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[point])
}

// Shutdown runs Cleanup on every registered plugin, best-effort. Cleanup
// failures are logged and do not stop the remaining plugins.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	plugins := r.plugins
	r.plugins = nil
	r.mu.Unlock()

	for _, plugin := range plugins {
		if err := plugin.Cleanup(); err != nil {
			r.logger.Warn("plugin cleanup failed",
				"plugin", plugin.Name(),
				"error", err)
		}
	}
}

func sortRegistrations(regs []*Registration) {
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].Priority != regs[j].Priority {
			return regs[i].Priority < regs[j].Priority
		}
		return regs[i].seq < regs[j].seq
	})
}

func validPoint(point ExtensionPoint) bool {
	for _, p := range ExtensionPoints {
		if p == point {
			return true
		}
	}
	return false
}
