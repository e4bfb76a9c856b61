package pm

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

// hookCaller executes every implementation registered for one HookDef, in
// the order computed by sortImpls, and applies first-result semantics
// when the definition calls for it.
type hookCaller struct {
	def   HookDef
	impls []*hookImpl
}

func newHookCaller(def HookDef) *hookCaller {
	return &hookCaller{def: def}
}

// addImpl installs impl, re-sorting the full implementation list to
// satisfy every before/after constraint. If no ordering satisfies all
// constraints the implementation is not installed and an error is
// returned — the constraint set is unsatisfiable.
func (c *hookCaller) addImpl(impl *hookImpl) error {
	candidate := make([]*hookImpl, len(c.impls)+1)
	copy(candidate, c.impls)
	candidate[len(c.impls)] = impl

	sorted, err := sortImpls(candidate)
	if err != nil {
		return fmt.Errorf("%w: hook %s: %v", entityerr.ErrPluginRegistration, c.def.Name, err)
	}
	c.impls = sorted
	return nil
}

func (c *hookCaller) removeImpl(impl *hookImpl) {
	for i, existing := range c.impls {
		if existing == impl {
			c.impls = append(c.impls[:i], c.impls[i+1:]...)
			return
		}
	}
}

func (c *hookCaller) call(args Args, log zerolog.Logger) ([]interface{}, error) {
	allowed := paramSet(c.def.Params)
	for k := range args {
		if _, ok := allowed[k]; !ok {
			return nil, fmt.Errorf("hook %s call has extra argument: %s", c.def.Name, k)
		}
	}

	var results []interface{}
	for _, impl := range c.impls {
		callArgs := make(Args, len(impl.params))
		for _, p := range impl.params {
			if v, ok := args[p]; ok {
				callArgs[p] = v
			}
		}
		log.Trace().Str("hook", c.def.Name).Str("plugin", impl.plugin.Name).Msg("calling hook implementation")
		res, err := impl.fn(callArgs)
		if err != nil {
			return nil, fmt.Errorf("plugin %s hook %s: %w", impl.plugin.Name, c.def.Name, err)
		}
		if res == nil {
			continue
		}
		if c.def.FirstResult {
			return []interface{}{res}, nil
		}
		results = append(results, res)
	}
	return results, nil
}

// hookValue tracks one implementation's sort position while sortImpls
// searches for a fixpoint: value is the current sort key (initially the
// plugin's load-order index), after is the fully-resolved set of plugin
// names this implementation must follow (its own "after" plus every other
// implementation's "before" naming this one's plugin).
type hookValue struct {
	impl  *hookImpl
	value int
	after map[string]struct{}
}

// sortImpls orders hooks to satisfy every before/after constraint,
// preferring the plugins' load-order index among unconstrained pairs. It
// rewrites every "before" edge as the equivalent inverse "after" edge,
// then repeatedly raises each constrained implementation's sort key past
// its slowest predecessor until the order stabilizes, trying at most
// len(hooks)^2 times before declaring the constraint set unsatisfiable.
func sortImpls(hooks []*hookImpl) ([]*hookImpl, error) {
	values := make([]*hookValue, len(hooks))
	for i, h := range hooks {
		after := make(map[string]struct{}, len(h.after))
		for a := range h.after {
			after[a] = struct{}{}
		}
		values[i] = &hookValue{impl: h, value: h.plugin.Index, after: after}
	}

	// Rewrite every "before" as the inverse "after" on the named plugin.
	for _, hv := range values {
		for name := range hv.impl.before {
			for _, other := range values {
				if other.impl.plugin.Name == name {
					other.after[hv.impl.plugin.Name] = struct{}{}
				}
			}
		}
	}

	n := len(hooks)
	for iter := 0; iter < n*n+1; iter++ {
		sort.SliceStable(values, func(i, j int) bool {
			return values[i].value < values[j].value
		})
		sorted := make([]*hookImpl, len(values))
		for i, hv := range values {
			sorted[i] = hv.impl
		}
		if correctlyOrdered(sorted) {
			return sorted, nil
		}
		for _, hv := range values {
			if len(hv.after) == 0 {
				continue
			}
			max := hv.value
			for _, other := range values {
				if _, ok := hv.after[other.impl.plugin.Name]; ok && other.value > max {
					max = other.value
				}
			}
			hv.value = max + 1
		}
	}
	return nil, fmt.Errorf("impossible to sort: unsatisfiable before/after constraints")
}

// correctlyOrdered reports whether hooks, in the given order, satisfies
// every implementation's after set (every named plugin's implementation
// already appears earlier) and rejects any self- or forward-reference.
func correctlyOrdered(hooks []*hookImpl) bool {
	for i, current := range hooks {
		before := hooks[:i]
		after := hooks[i+1:]
		for name := range current.after {
			if name == current.plugin.Name {
				return false
			}
			if namedIn(after, name) {
				return false
			}
		}
		for name := range current.before {
			if name == current.plugin.Name {
				return false
			}
			if namedIn(before, name) {
				return false
			}
		}
	}
	return true
}

func namedIn(hooks []*hookImpl, name string) bool {
	for _, h := range hooks {
		if h.plugin.Name == name {
			return true
		}
	}
	return false
}
