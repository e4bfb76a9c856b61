// Package hookspec declares the core's named hook points and provides
// typed, compile-time-checked Go wrappers around the generic pm.Manager
// engine, so that a collector plugin implements an ordinary Go interface
// instead of building an Args map by hand.
package hookspec

import (
	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

// Hook names, matching the spec's entityd_* naming so logs and error
// messages read the same as the system this was derived from.
const (
	SessionStart    = "entityd_sessionstart"
	SessionFinish   = "entityd_sessionfinish"
	PluginRegistered = "entityd_plugin_registered"
	FindEntity      = "entityd_find_entity"
	EmitEntities    = "entityd_emit_entities"
	SendEntity      = "entityd_send_entity"
	CollectionAfter = "entityd_collection_after"
)

// AddHookDefs installs every core hook definition on m. Called once during
// session bootstrap, before any plugin registers.
func AddHookDefs(m *pm.Manager) error {
	return m.AddHookDefs(
		pm.HookDef{Name: SessionStart, Params: []string{"session"}},
		pm.HookDef{Name: SessionFinish},
		pm.HookDef{Name: PluginRegistered, Params: []string{"name"}},
		pm.HookDef{Name: FindEntity, Params: []string{"name", "attrs", "include_ondemand"}},
		pm.HookDef{Name: EmitEntities},
		pm.HookDef{Name: SendEntity, Params: []string{"entity"}},
		pm.HookDef{Name: CollectionAfter, Params: []string{"updates"}},
	)
}

// FindEntityResult is what a FindEntity implementation returns: the
// entities matching the requested type, plus any additional entities it
// produced unprompted (the "on-demand" updates from spec.md §4.E step 2).
// On-demand updates are emitted downstream but never contribute to their
// own type's last-batch comparison set.
type FindEntityResult struct {
	Entities []*entity.Update
	OnDemand []*entity.Update
}

// EntityFinder is the Go interface a collector plugin implements to answer
// entityd_find_entity.
type EntityFinder interface {
	FindEntity(name string, attrs map[string]interface{}, includeOnDemand bool) (FindEntityResult, error)
}

// EntityEmitter is the Go interface for entityd_emit_entities: a plugin
// that pushes updates unconditionally, independent of the type being
// polled this cycle.
type EntityEmitter interface {
	EmitEntities() ([]*entity.Update, error)
}

// EntitySender is the Go interface for entityd_send_entity: a plugin that
// observes every update the monitor produces, live or tombstone.
type EntitySender interface {
	SendEntity(entity *entity.Update) error
}

// CollectionObserver is the Go interface for entityd_collection_after: a
// plugin that sees every update produced across a whole collection cycle
// at once, once that cycle is complete (the DOT exporter's grounding).
type CollectionObserver interface {
	CollectionAfter(updates []*entity.Update) error
}

// SessionStarter is the Go interface for entityd_sessionstart: a plugin
// that needs to load persisted state before the first collection cycle.
type SessionStarter interface {
	SessionStart() error
}

// SessionFinisher is the Go interface for entityd_sessionfinish: a plugin
// that needs to flush state after the run loop stops.
type SessionFinisher interface {
	SessionFinish() error
}

// RegisterOpts carries a plugin's before/after ordering constraints,
// shared across however many hooks it implements.
type RegisterOpts struct {
	Before []string
	After  []string
}

// RegisterFindEntity registers impl's FindEntity method as this plugin's
// entityd_find_entity implementation.
func RegisterFindEntity(m *pm.Manager, pluginName string, impl EntityFinder, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   FindEntity,
		Params: []string{"name", "attrs", "include_ondemand"},
		Before: opts.Before,
		After:  opts.After,
		Fn: func(args pm.Args) (interface{}, error) {
			name, _ := args["name"].(string)
			attrs, _ := args["attrs"].(map[string]interface{})
			includeOnDemand, _ := args["include_ondemand"].(bool)
			res, err := impl.FindEntity(name, attrs, includeOnDemand)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// RegisterEntityEmitter registers impl's EmitEntities method.
func RegisterEntityEmitter(m *pm.Manager, pluginName string, impl EntityEmitter, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   EmitEntities,
		Before: opts.Before,
		After:  opts.After,
		Fn: func(pm.Args) (interface{}, error) {
			updates, err := impl.EmitEntities()
			if err != nil {
				return nil, err
			}
			if len(updates) == 0 {
				return nil, nil
			}
			return updates, nil
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// RegisterEntitySender registers impl's SendEntity method as this
// plugin's entityd_send_entity implementation.
func RegisterEntitySender(m *pm.Manager, pluginName string, impl EntitySender, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   SendEntity,
		Params: []string{"entity"},
		Before: opts.Before,
		After:  opts.After,
		Fn: func(args pm.Args) (interface{}, error) {
			e, _ := args["entity"].(*entity.Update)
			return nil, impl.SendEntity(e)
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// RegisterCollectionObserver registers impl's CollectionAfter method.
func RegisterCollectionObserver(m *pm.Manager, pluginName string, impl CollectionObserver, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   CollectionAfter,
		Params: []string{"updates"},
		Before: opts.Before,
		After:  opts.After,
		Fn: func(args pm.Args) (interface{}, error) {
			updates, _ := args["updates"].([]*entity.Update)
			return nil, impl.CollectionAfter(updates)
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// RegisterSessionStarter registers impl's SessionStart method.
func RegisterSessionStarter(m *pm.Manager, pluginName string, impl SessionStarter, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   SessionStart,
		Before: opts.Before,
		After:  opts.After,
		Fn: func(pm.Args) (interface{}, error) {
			return nil, impl.SessionStart()
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// RegisterSessionFinisher registers impl's SessionFinish method.
func RegisterSessionFinisher(m *pm.Manager, pluginName string, impl SessionFinisher, opts RegisterOpts) (*pm.Plugin, error) {
	spec := pm.HookImplSpec{
		Hook:   SessionFinish,
		Before: opts.Before,
		After:  opts.After,
		Fn: func(pm.Args) (interface{}, error) {
			return nil, impl.SessionFinish()
		},
	}
	return m.Register(pluginName, impl, []pm.HookImplSpec{spec})
}

// CallFindEntity dispatches entityd_find_entity and adapts every
// implementation's raw result back into a typed slice, in call order.
func CallFindEntity(m *pm.Manager, name string, attrs map[string]interface{}, includeOnDemand bool) ([]FindEntityResult, error) {
	raw, err := m.Call(FindEntity, pm.Args{
		"name":             name,
		"attrs":            attrs,
		"include_ondemand": includeOnDemand,
	})
	if err != nil {
		return nil, err
	}
	out := make([]FindEntityResult, 0, len(raw))
	for _, r := range raw {
		if res, ok := r.(FindEntityResult); ok {
			out = append(out, res)
		}
	}
	return out, nil
}

// CallEmitEntities dispatches entityd_emit_entities.
func CallEmitEntities(m *pm.Manager) ([]*entity.Update, error) {
	raw, err := m.Call(EmitEntities, pm.Args{})
	if err != nil {
		return nil, err
	}
	var out []*entity.Update
	for _, r := range raw {
		if updates, ok := r.([]*entity.Update); ok {
			out = append(out, updates...)
		}
	}
	return out, nil
}

// CallSendEntity dispatches entityd_send_entity for one update.
func CallSendEntity(m *pm.Manager, e *entity.Update) error {
	_, err := m.Call(SendEntity, pm.Args{"entity": e})
	return err
}

// CallCollectionAfter dispatches entityd_collection_after with every
// update produced this cycle.
func CallCollectionAfter(m *pm.Manager, updates []*entity.Update) error {
	_, err := m.Call(CollectionAfter, pm.Args{"updates": updates})
	return err
}

// CallSessionStart dispatches entityd_sessionstart.
func CallSessionStart(m *pm.Manager, session interface{}) error {
	_, err := m.Call(SessionStart, pm.Args{"session": session})
	return err
}

// CallSessionFinish dispatches entityd_sessionfinish.
func CallSessionFinish(m *pm.Manager) error {
	_, err := m.Call(SessionFinish, pm.Args{})
	return err
}

// CallPluginRegistered dispatches entityd_plugin_registered for a
// just-registered plugin name.
func CallPluginRegistered(m *pm.Manager, name string) error {
	_, err := m.Call(PluginRegistered, pm.Args{"name": name})
	return err
}
