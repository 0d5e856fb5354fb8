package webhook

import (
	"regexp"
	"sort"
	"sync"

	"udl/pkg/errors"
)

// Plugin names: an optional @scope/ prefix, then a leading alphanumeric
// and any run of alphanumerics, underscores and hyphens.
var pluginNamePattern = regexp.MustCompile(`^(@[A-Za-z0-9][A-Za-z0-9_-]*/)?[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidPluginName reports whether name is an acceptable webhook path
// component after percent-decoding.
func ValidPluginName(name string) bool {
	return pluginNamePattern.MatchString(name)
}

// Registry maps plugin names to their webhook registrations.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]*Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]*Registration)}
}

// Register binds a handler registration to a plugin name. Invalid names
// fail validation; duplicate registrations fail with AlreadyRegistered.
func (r *Registry) Register(pluginName string, reg *Registration) error {
	if !ValidPluginName(pluginName) {
		return errors.NewValidationf("invalid plugin name %q", pluginName)
	}
	if reg == nil || reg.Handler == nil {
		return errors.NewValidation("webhook registration requires a handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[pluginName]; exists {
		return errors.NewAlreadyRegistered("webhook handler already registered for " + pluginName)
	}
	r.regs[pluginName] = reg
	return nil
}

// Get returns the registration for a plugin name.
func (r *Registry) Get(pluginName string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[pluginName]
	return reg, ok
}

// Names returns the registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.regs))
	for name := range r.regs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
