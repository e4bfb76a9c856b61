// Package monitor implements the collection cycle: fanning out
// entityd_find_entity / entityd_emit_entities across every registered
// collector, merging duplicates by UEID, tracking per-type liveness
// across cycles, and synthesising tombstones for entities that vanish.
package monitor

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/config"
	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

const (
	metypesKey     = "metypes"
	ueidPrefixFmt  = "ueids/%s/"
)

// Monitor owns last-batch memory and the collection cycle itself. It is
// registered as a plugin so entityd_sessionstart/entityd_sessionfinish
// load and persist last_batch around the kvstore's own lifecycle, and it
// publishes itself as the "monitor" service for other plugins to query.
type Monitor struct {
	mgr   *pm.Manager
	log   zerolog.Logger
	store *kvstore.Store
	cfg   *config.Config

	mu        sync.Mutex
	lastBatch map[string]map[entity.UEID]struct{}
}

// New creates a Monitor bound to the plugin manager, kvstore and config it
// will drive each cycle.
func New(mgr *pm.Manager, store *kvstore.Store, cfg *config.Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		mgr:       mgr,
		log:       log.With().Str("component", "monitor").Logger(),
		store:     store,
		cfg:       cfg,
		lastBatch: make(map[string]map[entity.UEID]struct{}),
	}
}

// Register installs the monitor itself as a plugin, contributing both the
// session-start and session-finish hooks under a single plugin identity
// (the manager rejects a second Register call under the same name, so
// both hooks are installed together here rather than through the
// single-hook hookspec helpers).
func (m *Monitor) Register(mgr *pm.Manager, name string) (*pm.Plugin, error) {
	specs := []pm.HookImplSpec{
		{
			Hook: hookspec.SessionStart,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, m.SessionStart()
			},
		},
		{
			Hook: hookspec.SessionFinish,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, m.SessionFinish()
			},
		},
	}
	return mgr.Register(name, m, specs)
}

// SessionStart loads last_batch from the kvstore: the previously seen
// entity types (metypes) plus every currently configured type, each with
// its previously stored UEID set (empty if never seen).
func (m *Monitor) SessionStart() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastTypes := map[string]struct{}{}
	if raw, err := m.store.Get(metypesKey); err == nil {
		for _, t := range splitTypes(raw) {
			lastTypes[t] = struct{}{}
		}
	}
	for _, t := range m.cfg.Entities() {
		lastTypes[t] = struct{}{}
	}

	for metype := range lastTypes {
		prefix := fmt.Sprintf(ueidPrefixFmt, metype)
		stored, err := m.store.GetMany(prefix)
		if err != nil {
			return fmt.Errorf("loading last batch for %s: %w", metype, err)
		}
		set := make(map[entity.UEID]struct{}, len(stored))
		for _, v := range stored {
			u, err := entity.UEIDFromHex(string(v))
			if err != nil {
				m.log.Warn().Err(err).Str("metype", metype).Msg("skipping malformed stored UEID")
				continue
			}
			set[u] = struct{}{}
		}
		m.lastBatch[metype] = set
	}
	return nil
}

// SessionFinish writes last_batch back to the kvstore: metypes plus each
// type's current UEID set, ordered before the kvstore itself stops.
func (m *Monitor) SessionFinish() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.lastBatch))
	for metype, ueids := range m.lastBatch {
		types = append(types, metype)
		prefix := fmt.Sprintf(ueidPrefixFmt, metype)
		if err := m.store.DeleteMany(prefix); err != nil {
			return fmt.Errorf("clearing last batch for %s: %w", metype, err)
		}
		toStore := make(map[string][]byte, len(ueids))
		for u := range ueids {
			toStore[prefix+u.Hex()] = []byte(u.Hex())
		}
		if len(toStore) > 0 {
			if err := m.store.AddMany(toStore); err != nil {
				return fmt.Errorf("storing last batch for %s: %w", metype, err)
			}
		}
	}
	return m.store.Add(metypesKey, []byte(joinTypes(types)))
}

// CollectEntities runs one collection cycle: poll every configured-or-
// remembered type, merge duplicate UEIDs, synthesise tombstones for
// anything that dropped out of last_batch, and send every resulting
// update. A producer error is logged and that producer's contribution
// for the cycle is dropped; the rest of the cycle proceeds.
func (m *Monitor) CollectEntities() error {
	m.mu.Lock()
	types := make(map[string]struct{})
	for _, t := range m.cfg.Entities() {
		types[t] = struct{}{}
	}
	for t := range m.lastBatch {
		types[t] = struct{}{}
	}
	m.mu.Unlock()

	var cycleUpdates []*entity.Update

	for metype := range types {
		seen, onDemand, err := m.collectType(metype)
		if err != nil {
			m.log.Error().Err(err).Str("metype", metype).Msg("producer failed, skipping for this cycle")
			continue
		}

		for _, u := range onDemand {
			cycleUpdates = append(cycleUpdates, u)
			if err := hookspec.CallSendEntity(m.mgr, u); err != nil {
				m.log.Error().Err(err).Msg("failed to send on-demand entity")
			}
		}

		m.mu.Lock()
		previous := m.lastBatch[metype]
		thisBatch := make(map[entity.UEID]struct{}, len(seen))
		for ueid := range seen {
			thisBatch[ueid] = struct{}{}
		}
		if len(thisBatch) == 0 {
			delete(m.lastBatch, metype)
		} else {
			m.lastBatch[metype] = thisBatch
		}
		m.mu.Unlock()

		for _, u := range seen {
			cycleUpdates = append(cycleUpdates, u)
			if err := hookspec.CallSendEntity(m.mgr, u); err != nil {
				m.log.Error().Err(err).Msg("failed to send entity")
			}
		}

		for ueid := range previous {
			if _, stillPresent := thisBatch[ueid]; stillPresent {
				continue
			}
			tomb := entity.NewTombstone(metype, ueid)
			cycleUpdates = append(cycleUpdates, tomb)
			if err := hookspec.CallSendEntity(m.mgr, tomb); err != nil {
				m.log.Error().Err(err).Msg("failed to send tombstone")
			}
		}
	}

	if err := hookspec.CallCollectionAfter(m.mgr, cycleUpdates); err != nil {
		m.log.Error().Err(err).Msg("entityd_collection_after failed")
	}
	return nil
}

// collectType dispatches entityd_find_entity and entityd_emit_entities for
// one type, merging duplicate UEIDs within the results (last writer into
// first, per the monitor's merge rule) and separating on-demand updates
// (which are sent but never contribute to this type's last-batch set).
func (m *Monitor) collectType(metype string) (seen map[entity.UEID]*entity.Update, onDemand []*entity.Update, err error) {
	results, err := hookspec.CallFindEntity(m.mgr, metype, nil, false)
	if err != nil {
		return nil, nil, fmt.Errorf("entityd_find_entity(%s): %w", metype, err)
	}

	seen = make(map[entity.UEID]*entity.Update)
	mergeIn := func(updates []*entity.Update) {
		for _, u := range updates {
			ueid := u.UEID()
			if existing, ok := seen[ueid]; ok {
				existing.Merge(u)
			} else {
				seen[ueid] = u
			}
		}
	}

	for _, r := range results {
		mergeIn(r.Entities)
		onDemand = append(onDemand, r.OnDemand...)
	}

	emitted, err := hookspec.CallEmitEntities(m.mgr)
	if err != nil {
		return nil, nil, fmt.Errorf("entityd_emit_entities: %w", err)
	}
	mergeIn(emitted)

	return seen, onDemand, nil
}

func splitTypes(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	start := 0
	s := string(raw)
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinTypes(types []string) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
