// Package entity implements the EntityUpdate value: one observation of one
// entity at one time, its UEID derivation, and its attribute/relation
// schema. See the entityd plugin manager and monitor packages for how
// updates flow through a collection cycle.
package entity

import "time"

// DefaultTTL is how long a downstream model may consider an entity live
// without a refresh, absent an explicit override.
const DefaultTTL = 120 * time.Second

// Update represents one observation of one entity at one time. It is built
// with New, attributes and relations are added through its Attrs/Parents/
// Children accessors, and its UEID is derived lazily from whichever
// attributes carry the entity:id trait — unless an explicit UEID was
// supplied at construction (the tombstone case), in which case the UEID is
// fixed and is never recomputed from attributes.
type Update struct {
	metype    string
	label     string
	hasLabel  bool
	timestamp time.Time
	ttl       time.Duration
	exists    bool

	attrs    *Attrs
	parents  *Relations
	children *Relations

	explicitUEID bool
	ueid         UEID
}

// New creates a live Update of the given type, timestamped now, with the
// default TTL.
func New(metype string) *Update {
	return &Update{
		metype:    metype,
		timestamp: time.Now(),
		ttl:       DefaultTTL,
		exists:    true,
		attrs:     newAttrs(),
		parents:   newRelations(),
		children:  newRelations(),
	}
}

// NewTombstone creates a deleted Update for metype whose UEID is fixed to
// ueid — the UEID of the live entity it replaces. Unlike New, this UEID is
// never recomputed from attributes: it is exactly what the monitor saw
// vanish from the previous cycle's last-batch set.
func NewTombstone(metype string, ueid UEID) *Update {
	u := New(metype)
	u.explicitUEID = true
	u.ueid = ueid
	u.exists = false
	return u
}

// Type returns the entity's dotted-or-colon-separated kind, e.g. "Host" or
// "Kubernetes:Pod".
func (u *Update) Type() string {
	return u.metype
}

// SetLabel sets the human-readable display label.
func (u *Update) SetLabel(label string) {
	u.label = label
	u.hasLabel = true
}

// Label returns the display label and whether one was set.
func (u *Update) Label() (string, bool) {
	return u.label, u.hasLabel
}

// Timestamp returns the wall-clock time this update was constructed.
func (u *Update) Timestamp() time.Time {
	return u.timestamp
}

// SetTTL overrides the default TTL.
func (u *Update) SetTTL(ttl time.Duration) {
	u.ttl = ttl
}

// TTL returns how long a downstream model may consider this entity live
// without a refresh.
func (u *Update) TTL() time.Duration {
	return u.ttl
}

// Exists reports whether this is a live update (true) or a tombstone
// (false).
func (u *Update) Exists() bool {
	return u.exists
}

// Delete marks this update as a tombstone. Per invariant 2, the UEID is
// unchanged by this call — if it was already computed (lazily, from
// attributes) it stays fixed from this point on, and if it was supplied
// explicitly at construction it was already fixed.
func (u *Update) Delete() {
	if !u.explicitUEID {
		u.ueid = deriveUEID(u.metype, u.attrs)
		u.explicitUEID = true
	}
	u.exists = false
}

// Attrs returns the attribute map for direct manipulation.
func (u *Update) Attrs() *Attrs {
	return u.attrs
}

// Parents returns the parent relation set.
func (u *Update) Parents() *Relations {
	return u.parents
}

// Children returns the child relation set.
func (u *Update) Children() *Relations {
	return u.children
}

// UEID derives (or returns the already-fixed) Unique Entity ID. Per
// invariant 1, it is fully determined by the type and the sorted set of
// (name, stringified value) pairs among entity:id-tagged attributes;
// changing any non-id attribute never changes it. Once Delete has been
// called, or the update was built with NewTombstone, the UEID is frozen
// and this method returns that fixed value without touching attrs.
func (u *Update) UEID() UEID {
	if u.explicitUEID {
		return u.ueid
	}
	return deriveUEID(u.metype, u.attrs)
}

// Merge overlays other onto u: other's attributes, parents and children are
// copied in, last-writer-wins per attribute name. Used by the monitor to
// collapse duplicate updates sharing a UEID within one collection cycle —
// "later into earlier" per the monitor's merge rule, so callers merge in
// encounter order: first.Merge(second), second.Merge(third), etc. is wrong;
// instead the monitor does merged := first; merged.Merge(second) ...
func (u *Update) Merge(other *Update) {
	u.attrs.overlay(other.attrs)
	u.parents.overlay(other.parents)
	u.children.overlay(other.children)
	if label, ok := other.Label(); ok {
		u.SetLabel(label)
	}
}
