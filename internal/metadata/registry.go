package metadata

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNilPlugin signals an attempt to register a nil plugin instance.
	ErrNilPlugin = errors.New("metadata: nil plugin")
	// ErrEmptyPluginID indicates a plugin with no identifier value.
	ErrEmptyPluginID = errors.New("metadata: plugin id is required")
	// ErrDuplicatePluginID indicates a plugin registration conflict.
	ErrDuplicatePluginID = errors.New("metadata: plugin id already registered")
)

// Registry stores plugins keyed by ID with concurrency safety.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry constructs an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(plugin Plugin) error {
	if plugin == nil {
		return ErrNilPlugin
	}

	id := strings.TrimSpace(plugin.ID())
	if id == "" {
		return ErrEmptyPluginID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		return ErrDuplicatePluginID
	}

	r.plugins[id] = plugin
	return nil
}

// MustRegister wraps Register and panics on validation errors.
func (r *Registry) MustRegister(plugin Plugin) {
	if err := r.Register(plugin); err != nil {
		panic(err)
	}
}

// Get returns the plugin registered for id when present.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.plugins[strings.TrimSpace(id)]
	return plugin, ok
}

// IDs returns the registered plugin ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RegisterBuiltins registers the bundled plugins using the given field mapping.
func RegisterBuiltins(r *Registry, mapping FieldMapping) error {
	for _, plugin := range []Plugin{
		NewDublinCore(mapping),
		NewMODS(mapping),
		NewRawFields(),
	} {
		if err := r.Register(plugin); err != nil {
			return err
		}
	}
	return nil
}
