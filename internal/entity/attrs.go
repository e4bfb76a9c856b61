package entity

// TraitSet is a set of opaque trait strings attached to one attribute.
type TraitSet map[string]struct{}

// NewTraitSet builds a TraitSet from a list of trait strings.
func NewTraitSet(traits ...string) TraitSet {
	s := make(TraitSet, len(traits))
	for _, t := range traits {
		s[t] = struct{}{}
	}
	return s
}

// Contains reports whether t is present in the set.
func (s TraitSet) Contains(t string) bool {
	_, ok := s[t]
	return ok
}

// Add inserts t into the set.
func (s TraitSet) Add(t string) {
	s[t] = struct{}{}
}

// List returns the traits in no particular order.
func (s TraitSet) List() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	return out
}

// attrValue is the internal representation of one named attribute: either
// value-bearing (deleted == false) or a tombstoned name (deleted == true,
// value and traits carry no meaning). The two states are mutually
// exclusive per the EntityUpdate invariants.
type attrValue struct {
	value   interface{}
	traits  TraitSet
	deleted bool
}

// Attrs holds the attribute map of one EntityUpdate: a name maps to a
// (value, traits) pair, or is flagged deleted. Setting a name replaces
// its prior value and traits entirely.
type Attrs struct {
	entries map[string]*attrValue
}

func newAttrs() *Attrs {
	return &Attrs{entries: make(map[string]*attrValue)}
}

// Set assigns value and traits to name, overwriting whatever was there
// (including a prior deleted flag).
func (a *Attrs) Set(name string, value interface{}, traits ...string) {
	a.entries[name] = &attrValue{value: value, traits: NewTraitSet(traits...)}
}

// Delete marks name as deleted: it no longer carries a value, but its
// presence (and absence of a value) is still communicated on the wire.
func (a *Attrs) Delete(name string) {
	a.entries[name] = &attrValue{deleted: true, traits: TraitSet{}}
}

// Get returns the value and traits for name, and whether name is present
// and not deleted.
func (a *Attrs) Get(name string) (value interface{}, traits TraitSet, ok bool) {
	e, found := a.entries[name]
	if !found || e.deleted {
		return nil, nil, false
	}
	return e.value, e.traits, true
}

// IsDeleted reports whether name is present and flagged deleted.
func (a *Attrs) IsDeleted(name string) bool {
	e, ok := a.entries[name]
	return ok && e.deleted
}

// Names returns every attribute name present, value-bearing or deleted.
func (a *Attrs) Names() []string {
	out := make([]string, 0, len(a.entries))
	for name := range a.entries {
		out = append(out, name)
	}
	return out
}

// Len returns the number of attribute names present.
func (a *Attrs) Len() int {
	return len(a.entries)
}

// overlay copies every entry of other into a, last-writer-wins. Used to
// merge duplicate updates sharing a UEID within one collection cycle.
func (a *Attrs) overlay(other *Attrs) {
	for name, e := range other.entries {
		cp := *e
		cp.traits = NewTraitSet(e.traits.List()...)
		a.entries[name] = &cp
	}
}

// Relations is a set of UEIDs: the parent or child side of one EntityUpdate.
type Relations struct {
	ueids map[UEID]struct{}
}

func newRelations() *Relations {
	return &Relations{ueids: make(map[UEID]struct{})}
}

// AddUEID adds a UEID directly to the relation set.
func (r *Relations) AddUEID(u UEID) {
	r.ueids[u] = struct{}{}
}

// Add extracts the UEID of update and adds it to the relation set. This is
// the convenience path: relations never store a full update, only its id.
func (r *Relations) Add(update *Update) {
	r.AddUEID(update.UEID())
}

// Contains reports whether u is a member.
func (r *Relations) Contains(u UEID) bool {
	_, ok := r.ueids[u]
	return ok
}

// List returns the member UEIDs in no particular order.
func (r *Relations) List() []UEID {
	out := make([]UEID, 0, len(r.ueids))
	for u := range r.ueids {
		out = append(out, u)
	}
	return out
}

// Len returns the number of member UEIDs.
func (r *Relations) Len() int {
	return len(r.ueids)
}

// overlay adds every member of other into r.
func (r *Relations) overlay(other *Relations) {
	for u := range other.ueids {
		r.ueids[u] = struct{}{}
	}
}
