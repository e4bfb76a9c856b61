package sender

import (
	"math/rand"
	"reflect"

	"github.com/cobeio/entityd-sub000/internal/entity"
)

// attrSnapshot is what the optimiser remembers about the last attribute
// value it actually sent for one UEID, so it can detect a no-op update.
type attrSnapshot struct {
	value  interface{}
	traits entity.TraitSet
}

// optimiser implements the attribute delta optimisation: once enabled, an
// update's unchanged attributes are dropped from the wire payload for a
// run of cycles, with a full refresh forced every frequency cycles. Each
// UEID starts at a random offset into that cycle so a large population of
// entities doesn't all force-refresh on the same tick.
type optimiser struct {
	enabled   bool
	maxCycles int

	cycles map[entity.UEID]int
	seen   map[entity.UEID]map[string]attrSnapshot
}

func newOptimiser(enabled bool, frequency int) *optimiser {
	if frequency < 1 {
		frequency = 1
	}
	return &optimiser{
		enabled:   enabled,
		maxCycles: frequency,
		cycles:    make(map[entity.UEID]int),
		seen:      make(map[entity.UEID]map[string]attrSnapshot),
	}
}

// shouldOptimise advances ueid's cycle counter and reports whether this
// send may be optimised (true) or must be a full refresh (false). The
// counter resets to zero on a forced refresh.
func (o *optimiser) shouldOptimise(ueid entity.UEID) bool {
	if !o.enabled {
		return false
	}
	if _, ok := o.cycles[ueid]; !ok {
		o.cycles[ueid] = rand.Intn(o.maxCycles)
	}
	o.cycles[ueid]++
	if o.cycles[ueid] >= o.maxCycles {
		o.cycles[ueid] = 0
		return false
	}
	return true
}

// apply decides which of u's live attribute names should actually be sent
// this cycle, and updates the optimiser's memory to match. Deleted
// attribute names are never filtered by the caller but are forgotten here
// so a later reappearance of the same name is treated as new. A tombstone
// clears all memory for its UEID, since no further updates are expected.
func (o *optimiser) apply(u *entity.Update) map[string]struct{} {
	ueid := u.UEID()
	seen, ok := o.seen[ueid]
	if !ok {
		seen = make(map[string]attrSnapshot)
		o.seen[ueid] = seen
	}

	if !o.shouldOptimise(ueid) {
		for name := range seen {
			delete(seen, name)
		}
	}

	send := make(map[string]struct{})
	for _, name := range u.Attrs().Names() {
		if u.Attrs().IsDeleted(name) {
			delete(seen, name)
			continue
		}
		value, traits, _ := u.Attrs().Get(name)
		if prev, existed := seen[name]; !existed || !sameAttr(prev, value, traits) {
			send[name] = struct{}{}
		}
		seen[name] = attrSnapshot{value: value, traits: traits}
	}

	if !u.Exists() {
		delete(o.seen, ueid)
	}
	return send
}

func sameAttr(prev attrSnapshot, value interface{}, traits entity.TraitSet) bool {
	if !reflect.DeepEqual(prev.value, value) {
		return false
	}
	if len(prev.traits) != len(traits) {
		return false
	}
	for t := range traits {
		if !prev.traits.Contains(t) {
			return false
		}
	}
	return true
}
