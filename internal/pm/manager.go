// Package pm implements the plugin manager: a hook-dispatch runtime that
// binds independent plugins to a fixed set of named hook points, with
// cooperative before/after ordering and first-result semantics.
//
// The system this was ported from discovers hook implementations by
// scanning decorated functions on arbitrary objects. Go has no attribute
// introspection of that kind, so this package keeps the generic dispatch
// and ordering algorithm — the part the spec actually tests — but replaces
// decorator discovery with explicit registration: a plugin hands the
// manager a HookImplSpec per hook it implements, naming its before/after
// constraints directly in the call. Package hookspec layers typed,
// compile-time-checked Go interfaces for the core's own named hooks on top
// of this engine.
package pm

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

// Args is the keyword-argument bag passed to a hook call and to each hook
// implementation. A hook implementation only ever sees the subset of keys
// it declared interest in at registration time.
type Args map[string]interface{}

// HookFunc is the shape every hook implementation must have: it receives
// only the Args keys it asked for and returns a value (or nil) plus an
// error. A non-nil error is not swallowed by the manager — see hookCaller
// for how dispatch propagates it.
type HookFunc func(args Args) (interface{}, error)

// HookDef declares one named hook point: the set of parameter names a
// call may carry, and whether dispatch stops at the first non-nil result.
type HookDef struct {
	Name        string
	Params      []string
	FirstResult bool
}

// HookImplSpec is what a plugin hands the manager for one hook it
// implements: which hook, which of that hook's parameters it wants, its
// ordering constraints relative to other plugins by name, and the
// function itself.
type HookImplSpec struct {
	Hook   string
	Params []string
	Before []string
	After  []string
	Fn     HookFunc
}

// Plugin is the manager's record of one registered plugin: its name, the
// monotonically increasing index assigned at registration (the default
// ordering tiebreak), and the hook implementations it contributed.
type Plugin struct {
	Name  string
	Index int
	obj   interface{}
	impls []*hookImpl
}

type hookImpl struct {
	name    string
	plugin  *Plugin
	fn      HookFunc
	params  []string
	before  map[string]struct{}
	after   map[string]struct{}
	sortKey int
}

func paramSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Manager is the plugin manager. Hooks are dispatched through Manager.Call;
// plugins are added and removed through Register/Unregister.
type Manager struct {
	hookdefs map[string]HookDef
	callers  map[string]*hookCaller
	plugins  map[string]*Plugin
	byObj    map[interface{}]*Plugin
	nextIdx  int

	registerCB func(*Plugin)
	log        zerolog.Logger
}

// New creates an empty Manager. Hook definitions must be added with
// AddHookDef (or AddHookDefs) before any plugin can register an
// implementation for them.
func New(log zerolog.Logger) *Manager {
	return &Manager{
		hookdefs: make(map[string]HookDef),
		callers:  make(map[string]*hookCaller),
		plugins:  make(map[string]*Plugin),
		byObj:    make(map[interface{}]*Plugin),
		log:      log.With().Str("component", "pm").Logger(),
	}
}

// SetRegisterCallback installs a callback invoked with the Plugin after
// every successful Register call, mirroring entityd_plugin_registered.
func (m *Manager) SetRegisterCallback(cb func(*Plugin)) {
	m.registerCB = cb
}

// AddHookDef installs one hook definition. Adding a definition whose name
// already exists fails.
func (m *Manager) AddHookDef(def HookDef) error {
	if _, exists := m.hookdefs[def.Name]; exists {
		return fmt.Errorf("hook already exists for name: %s", def.Name)
	}
	m.hookdefs[def.Name] = def
	m.callers[def.Name] = newHookCaller(def)
	m.log.Debug().Str("hook", def.Name).Bool("firstresult", def.FirstResult).Msg("added hook definition")
	return nil
}

// AddHookDefs installs multiple hook definitions, stopping at the first
// error.
func (m *Manager) AddHookDefs(defs ...HookDef) error {
	for _, d := range defs {
		if err := m.AddHookDef(d); err != nil {
			return err
		}
	}
	return nil
}

// Register adds a new plugin under name, installing each of its hook
// implementations into the corresponding hookCaller. obj is an opaque
// identity used by GetPluginByObj; it may be nil if the plugin is only
// ever referred to by name (Unregister always takes the name).
//
// Registering a duplicate name fails. An implementation naming a hook with
// no matching definition, or declaring parameters outside that hook's
// definition, fails registration of the whole plugin — nothing is
// partially installed.
func (m *Manager) Register(name string, obj interface{}, impls []HookImplSpec) (*Plugin, error) {
	if _, exists := m.plugins[name]; exists {
		return nil, fmt.Errorf("%w: plugin already registered: %s", entityerr.ErrPluginRegistration, name)
	}

	plugin := &Plugin{Name: name, Index: m.nextIdx, obj: obj}
	m.nextIdx++

	built := make([]*hookImpl, 0, len(impls))
	for _, spec := range impls {
		caller, ok := m.callers[spec.Hook]
		if !ok {
			return nil, fmt.Errorf("%w: found unknown hook in %s: %s", entityerr.ErrPluginRegistration, name, spec.Hook)
		}
		allowed := paramSet(caller.def.Params)
		for _, p := range spec.Params {
			if _, ok := allowed[p]; !ok {
				return nil, fmt.Errorf("%w: hook %s:%s accepts unknown argument: %s",
					entityerr.ErrPluginRegistration, name, spec.Hook, p)
			}
		}
		if err := validateOrderingNames(name, spec.Before, spec.After); err != nil {
			return nil, err
		}
		built = append(built, &hookImpl{
			name:   spec.Hook,
			plugin: plugin,
			fn:     spec.Fn,
			params: spec.Params,
			before: toSet(spec.Before),
			after:  toSet(spec.After),
		})
	}

	// Install only after every spec validated, so a failed registration
	// never leaves a hook caller with a partial plugin's implementations.
	for _, impl := range built {
		if err := m.callers[impl.name].addImpl(impl); err != nil {
			// Roll back any earlier impls from this same plugin.
			for _, done := range built {
				if done == impl {
					break
				}
				m.callers[done.name].removeImpl(done)
			}
			return nil, err
		}
	}

	plugin.impls = built
	m.plugins[name] = plugin
	if obj != nil {
		m.byObj[obj] = plugin
	}

	m.log.Info().Str("plugin", name).Int("index", plugin.Index).Msg("registered plugin")
	if m.registerCB != nil {
		m.registerCB(plugin)
	}
	return plugin, nil
}

func toSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func validateOrderingNames(self string, before, after []string) error {
	for _, b := range before {
		if b == self {
			return fmt.Errorf("%w: plugin %s declares before on itself", entityerr.ErrPluginRegistration, self)
		}
	}
	for _, a := range after {
		if a == self {
			return fmt.Errorf("%w: plugin %s declares after on itself", entityerr.ErrPluginRegistration, self)
		}
	}
	beforeSet := toSet(before)
	for _, a := range after {
		if _, ok := beforeSet[a]; ok {
			return fmt.Errorf("%w: plugin %s declares both before and after %s", entityerr.ErrPluginRegistration, self, a)
		}
	}
	return nil
}

// Unregister removes every hook implementation contributed by the named
// plugin.
func (m *Manager) Unregister(name string) error {
	plugin, err := m.GetPlugin(name)
	if err != nil {
		return err
	}
	for _, impl := range plugin.impls {
		m.callers[impl.name].removeImpl(impl)
	}
	delete(m.plugins, name)
	if plugin.obj != nil {
		delete(m.byObj, plugin.obj)
	}
	m.log.Info().Str("plugin", name).Msg("unregistered plugin")
	return nil
}

// IsRegistered reports whether a plugin by that name is currently
// registered.
func (m *Manager) IsRegistered(name string) bool {
	_, ok := m.plugins[name]
	return ok
}

// GetPlugin looks up a registered plugin by name.
func (m *Manager) GetPlugin(name string) (*Plugin, error) {
	p, ok := m.plugins[name]
	if !ok {
		return nil, fmt.Errorf("plugin not registered: %s", name)
	}
	return p, nil
}

// GetPluginByObj looks up a registered plugin by the obj passed to
// Register.
func (m *Manager) GetPluginByObj(obj interface{}) (*Plugin, error) {
	p, ok := m.byObj[obj]
	if !ok {
		return nil, fmt.Errorf("plugin not registered for object: %v", obj)
	}
	return p, nil
}

// Call dispatches the named hook with the given Args. For a non-first-
// result hook, every implementation runs in order and every non-nil
// result is collected into the returned slice. For a first-result hook,
// the first non-nil result short-circuits; Call returns a one-element
// slice containing it, or an empty slice if every implementation returned
// nil.
//
// Extra keys in args that the hook definition does not declare are
// rejected. An error from any implementation aborts the dispatch
// immediately and is returned to the caller — the manager does not catch
// or continue past it; the caller (the monitor, for producer hooks) is
// responsible for logging and skipping.
func (m *Manager) Call(hookName string, args Args) ([]interface{}, error) {
	caller, ok := m.callers[hookName]
	if !ok {
		return nil, fmt.Errorf("no such hook: %s", hookName)
	}
	return caller.call(args, m.log)
}

// HookNames returns every hook definition name currently installed.
func (m *Manager) HookNames() []string {
	out := make([]string, 0, len(m.hookdefs))
	for n := range m.hookdefs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
