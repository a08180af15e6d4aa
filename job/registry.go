package job

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/tenantrun"
)

// Registry maps job names to definitions. It is safe for concurrent use.
// Definitions are stored with engine defaults applied and are never
// modified after registration.
type Registry struct {
	mu   sync.RWMutex
	cfg  tenantrun.Config
	defs map[string]*Definition
}

// NewRegistry creates an empty registry that fills unset job options from
// tenantrun.DefaultConfig.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(tenantrun.DefaultConfig())
}

// NewRegistryWithConfig creates an empty registry using cfg for defaults.
func NewRegistryWithConfig(cfg tenantrun.Config) *Registry {
	return &Registry{cfg: cfg, defs: make(map[string]*Definition)}
}

// SetDefaults changes the config used for definitions registered later.
func (r *Registry) SetDefaults(cfg tenantrun.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// Register adds a definition. Names must be unique.
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("%w: %q", tenantrun.ErrDuplicateJob, def.Name)
	}
	r.defs[def.Name] = def.withDefaults(r.cfg)
	return nil
}

// Reload replaces every definition at once. Either all definitions are
// valid and installed, or the registry is left unchanged.
func (r *Registry) Reload(defs ...*Definition) error {
	r.mu.RLock()
	cfg := r.cfg
	r.mu.RUnlock()

	next := make(map[string]*Definition, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return err
		}
		if _, ok := next[def.Name]; ok {
			return fmt.Errorf("%w: %q", tenantrun.ErrDuplicateJob, def.Name)
		}
		next[def.Name] = def.withDefaults(cfg)
	}

	r.mu.Lock()
	r.defs = next
	r.mu.Unlock()
	return nil
}

// Get returns the definition for the given job name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scheduled returns the definitions that have a cron schedule, sorted by
// name.
func (r *Registry) Scheduled() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Definition
	for _, d := range r.defs {
		if d.Schedule != "" {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
