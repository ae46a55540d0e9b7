package hookwire

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hookwire/hookwire/pkg/hookwire/observability"
)

// HandlerSpec describes one handler a plugin module contributes.
type HandlerSpec struct {
	Kind     Kind
	Selector []string
	Name     string
	Fn       Handler
}

// Module is the contribution of one plugin: definitions, handlers, and
// activity groups, with optional lifecycle hooks.
type Module struct {
	Name string

	Definitions    []*Definition
	Handlers       []HandlerSpec
	ActivityGroups map[string][]string

	// Init runs before the module's contributions are registered. A non-nil
	// error aborts the load.
	Init func() error

	// Cleanup runs after the module's contributions are removed on unload.
	// Errors are logged, not returned; unload always completes.
	Cleanup func() error
}

// Provider enumerates and resolves loadable plugin modules. Hosts that
// assemble plugins at build time use StaticProvider; others can back this
// with a discovery mechanism.
type Provider interface {
	// ListKeys returns the loadable plugin names.
	ListKeys() []string

	// Resolve returns the module for a plugin name.
	Resolve(key string) (*Module, error)
}

// StaticProvider is a Provider backed by a fixed map of modules.
type StaticProvider map[string]*Module

// ListKeys returns the plugin names in sorted order.
func (p StaticProvider) ListKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Resolve returns the module for a plugin name.
func (p StaticProvider) Resolve(key string) (*Module, error) {
	mod, ok := p[key]
	if !ok {
		return nil, fmt.Errorf("unknown plugin %q", key)
	}
	return mod, nil
}

// PluginRecord describes one loaded plugin.
type PluginRecord struct {
	Name        string
	Definitions []string
	Handlers    []string
	Groups      []string
}

// record tracks what a loaded plugin registered, for unload.
type record struct {
	name        string
	module      *Module
	definitions []string
	handlers    []*Registration
	groups      map[string][]string
}

// Manager loads plugin modules into a bus and unloads them cleanly. Load
// and unload mutate the registry and handler list atomically with respect
// to concurrent dispatches.
type Manager struct {
	bus      *Bus
	provider Provider

	mu     sync.Mutex
	loaded map[string]*record
}

// NewManager creates a plugin manager for the given bus.
func NewManager(bus *Bus, provider Provider) *Manager {
	return &Manager{
		bus:      bus,
		provider: provider,
		loaded:   make(map[string]*record),
	}
}

// DiscoverPlugins returns the names of loadable plugins.
func (m *Manager) DiscoverPlugins() []string {
	return m.provider.ListKeys()
}

// Load resolves and loads a plugin: Init hook, then definitions, handlers,
// and activity groups in one exclusive section. A failure at any step rolls
// back everything already registered and returns a *PluginLoadError.
// Loading an already-loaded plugin is a no-op.
func (m *Manager) Load(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.loaded[name]; ok {
		return nil
	}

	mod, err := m.provider.Resolve(name)
	if err != nil {
		return &PluginLoadError{Plugin: name, Err: err}
	}

	if mod.Init != nil {
		if err := mod.Init(); err != nil {
			return &PluginLoadError{Plugin: name, Err: fmt.Errorf("init: %w", err)}
		}
	}

	rec := &record{name: name, module: mod, groups: make(map[string][]string)}

	// Rollback runs inside the same exclusive section, so a failed load is
	// never partially visible to a dispatch.
	err = m.bus.UpdateExclusive(func() error {
		if err := m.installLocked(mod, rec); err != nil {
			m.removeLocked(rec)
			return err
		}
		return nil
	})
	if err != nil {
		observability.LogPluginError(m.bus.logger, name, "load", err)
		return &PluginLoadError{Plugin: name, Err: err}
	}

	m.loaded[name] = rec
	observability.LogPluginLoaded(m.bus.logger, name, len(rec.definitions), len(rec.handlers))
	return nil
}

// installLocked registers a module's contributions; callers hold the bus
// lock through UpdateExclusive.
func (m *Manager) installLocked(mod *Module, rec *record) error {
	for _, def := range mod.Definitions {
		if err := m.bus.registry.Register(*def); err != nil {
			return fmt.Errorf("register definition %q: %w", def.Name, err)
		}
		rec.definitions = append(rec.definitions, def.Name)
	}
	for _, spec := range mod.Handlers {
		if !spec.Kind.valid() {
			return fmt.Errorf("handler %q: unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.Fn == nil {
			return fmt.Errorf("handler %q: nil function", spec.Name)
		}
		hname := spec.Name
		if hname == "" {
			hname = fmt.Sprintf("%s-handler-%d", rec.name, len(rec.handlers))
		}
		reg := m.bus.registerLocked(spec.Kind, spec.Selector, spec.Fn, WithHandlerName(hname))
		rec.handlers = append(rec.handlers, reg)
	}
	for group, activities := range mod.ActivityGroups {
		added := m.bus.addActivityGroupLocked(group, activities)
		if len(added) > 0 {
			rec.groups[group] = added
		}
	}
	return nil
}

// Unload removes a loaded plugin's definitions, handlers, and activity group
// entries in one exclusive section, then runs its Cleanup hook. Returns
// *PluginNotLoadedError when the plugin is not loaded.
func (m *Manager) Unload(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.loaded[name]
	if !ok {
		return &PluginNotLoadedError{Plugin: name}
	}

	_ = m.bus.UpdateExclusive(func() error {
		m.removeLocked(rec)
		return nil
	})
	delete(m.loaded, name)

	if rec.module.Cleanup != nil {
		if err := rec.module.Cleanup(); err != nil {
			observability.LogPluginError(m.bus.logger, name, "cleanup", err)
		}
	}
	observability.LogPluginUnloaded(m.bus.logger, name)
	return nil
}

// removeLocked reverses a record's registrations; callers hold the bus lock
// through UpdateExclusive.
func (m *Manager) removeLocked(rec *record) {
	for _, reg := range rec.handlers {
		m.bus.removeLocked(reg)
	}
	for _, defName := range rec.definitions {
		m.bus.registry.Unregister(defName)
	}
	for group, added := range rec.groups {
		m.bus.removeActivityGroupEntriesLocked(group, added)
	}
}

// RegisterWithBus re-applies the loaded plugins' handlers and activity
// groups to another bus, in sorted plugin order. Definitions stay in the
// registry the plugins were loaded into; point the target bus at the same
// registry for pattern handlers to match. The target bus does not
// participate in Unload.
func (m *Manager) RegisterWithBus(bus *Bus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mod := m.loaded[name].module
		err := bus.UpdateExclusive(func() error {
			for i, spec := range mod.Handlers {
				hname := spec.Name
				if hname == "" {
					hname = fmt.Sprintf("%s-handler-%d", name, i)
				}
				bus.registerLocked(spec.Kind, spec.Selector, spec.Fn, WithHandlerName(hname))
			}
			for group, activities := range mod.ActivityGroups {
				bus.addActivityGroupLocked(group, activities)
			}
			return nil
		})
		if err != nil {
			return &PluginLoadError{Plugin: name, Err: err}
		}
	}
	return nil
}

// LoadAll loads every plugin the provider knows, stopping at the first
// failure.
func (m *Manager) LoadAll() error {
	for _, name := range m.provider.ListKeys() {
		if err := m.Load(name); err != nil {
			return err
		}
	}
	return nil
}

// Loaded returns the names of loaded plugins in sorted order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.loaded))
	for name := range m.loaded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsLoaded reports whether a plugin is currently loaded.
func (m *Manager) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loaded[name]
	return ok
}

// Info returns a snapshot of every loaded plugin's contributions.
func (m *Manager) Info() []PluginRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PluginRecord, 0, len(m.loaded))
	for _, rec := range m.loaded {
		pr := PluginRecord{
			Name:        rec.name,
			Definitions: append([]string(nil), rec.definitions...),
		}
		for _, reg := range rec.handlers {
			pr.Handlers = append(pr.Handlers, reg.name)
		}
		for group := range rec.groups {
			pr.Groups = append(pr.Groups, group)
		}
		sort.Strings(pr.Groups)
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
