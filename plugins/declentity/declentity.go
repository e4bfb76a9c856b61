// Package declentity implements the declarative-entities collector: a
// plugin that reads a directory of YAML files, each YAML document in them
// describing one static entity, and answers entityd_find_entity for the
// types they define. The directory is not watched for changes.
//
// Grounded on original_source/entityd/declentity.py's DeclerativeEntity:
// files are loaded once at session start, each entity's UEID is derived
// from its (filepath, host) identifying attributes so the same file
// always describes the same entity, and a file that disappears between
// restarts is reported as a tombstone exactly once. Parent resolution is
// simplified from the original's regex-based attribute matching to a
// straight by-type lookup: a declared parent type contributes every
// currently known entity of that type as a parent, which covers the
// common "parent this under the Host" case without the recursive
// attribute-regex matcher.
package declentity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

const kvPrefix = "declentity:"

// fileConfig is one YAML document: one static entity description.
type fileConfig struct {
	Type    string                 `yaml:"type"`
	Attrs   map[string]interface{} `yaml:"attrs"`
	Parents []parentSpec           `yaml:"parents"`
	path    string
}

type parentSpec struct {
	Type string `yaml:"type"`
}

// Plugin implements hookspec.EntityFinder for declarative entities, and
// hookspec.SessionStarter/SessionFinisher for UEID persistence across
// restarts.
type Plugin struct {
	dir   string
	mgr   *pm.Manager
	store *kvstore.Store

	byType  map[string][]*fileConfig
	deleted map[string][]entity.UEID
}

// New creates a declarative-entities collector reading *.yaml files from
// dir, resolving parent types through mgr, and persisting known UEIDs in
// store.
func New(dir string, mgr *pm.Manager, store *kvstore.Store) *Plugin {
	return &Plugin{
		dir:     dir,
		mgr:     mgr,
		store:   store,
		byType:  make(map[string][]*fileConfig),
		deleted: make(map[string][]entity.UEID),
	}
}

// Register installs the plugin under one identity, contributing
// find-entity, session-start and session-finish.
func (p *Plugin) Register(mgr *pm.Manager, name string) (*pm.Plugin, error) {
	specs := []pm.HookImplSpec{
		{
			Hook:   hookspec.FindEntity,
			Params: []string{"name", "attrs", "include_ondemand"},
			Fn: func(args pm.Args) (interface{}, error) {
				n, _ := args["name"].(string)
				attrs, _ := args["attrs"].(map[string]interface{})
				res, err := p.FindEntity(n, attrs, false)
				if err != nil {
					return nil, err
				}
				return res, nil
			},
		},
		{
			Hook: hookspec.SessionStart,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, p.SessionStart()
			},
		},
		{
			Hook: hookspec.SessionFinish,
			Fn: func(pm.Args) (interface{}, error) {
				return nil, p.SessionFinish()
			},
		},
	}
	return mgr.Register(name, p, specs)
}

// SessionStart loads every *.yaml file under dir, then compares the
// previously persisted UEIDs against what the current configuration
// would produce, queuing a tombstone for anything that no longer matches
// (the file was removed or its identity changed).
func (p *Plugin) SessionStart() error {
	if err := p.loadFiles(); err != nil {
		return err
	}
	if p.store == nil {
		return nil
	}

	stored, err := p.store.GetMany(kvPrefix)
	if err != nil {
		return fmt.Errorf("declentity: loading persisted UEIDs: %w", err)
	}

	expected := make(map[entity.UEID]struct{})
	for metype, configs := range p.byType {
		for _, cfg := range configs {
			u, err := p.build(cfg)
			if err != nil {
				continue
			}
			expected[u.UEID()] = struct{}{}
		}
		_ = metype
	}

	for key, typeBytes := range stored {
		ueid, err := entity.UEIDFromHex(strings.TrimPrefix(key, kvPrefix))
		if err != nil {
			continue
		}
		if _, ok := expected[ueid]; ok {
			continue
		}
		metype := string(typeBytes)
		p.deleted[metype] = append(p.deleted[metype], ueid)
	}
	return nil
}

// SessionFinish persists every currently configured entity's UEID, keyed
// by type, replacing whatever was stored before.
func (p *Plugin) SessionFinish() error {
	if p.store == nil {
		return nil
	}
	if err := p.store.DeleteMany(kvPrefix); err != nil {
		return fmt.Errorf("declentity: clearing persisted UEIDs: %w", err)
	}
	toAdd := make(map[string][]byte)
	for metype, configs := range p.byType {
		for _, cfg := range configs {
			u, err := p.build(cfg)
			if err != nil {
				continue
			}
			toAdd[kvPrefix+u.UEID().Hex()] = []byte(metype)
		}
	}
	if len(toAdd) == 0 {
		return nil
	}
	return p.store.AddMany(toAdd)
}

// FindEntity returns a tombstone for any UEID of name that was previously
// known but no longer matches the current configuration (once, then
// forgotten), followed by one live update per currently configured entity
// of that type.
func (p *Plugin) FindEntity(name string, attrs map[string]interface{}, includeOnDemand bool) (hookspec.FindEntityResult, error) {
	if attrs != nil {
		return hookspec.FindEntityResult{}, fmt.Errorf("declentity: attribute-based filtering is not supported")
	}

	var out []*entity.Update
	if ueids, ok := p.deleted[name]; ok {
		for _, ueid := range ueids {
			out = append(out, entity.NewTombstone(name, ueid))
		}
		delete(p.deleted, name)
	}

	for _, cfg := range p.byType[name] {
		u, err := p.build(cfg)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return hookspec.FindEntityResult{Entities: out}, nil
}

// loadFiles walks dir for *.yaml files, each potentially containing
// multiple YAML documents, and records one fileConfig per document with a
// "type" field.
func (p *Plugin) loadFiles() error {
	p.byType = make(map[string][]*fileConfig)
	if p.dir == "" {
		return nil
	}
	return filepath.Walk(p.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		dec := yaml.NewDecoder(strings.NewReader(string(data)))
		for {
			var cfg fileConfig
			if decErr := dec.Decode(&cfg); decErr != nil {
				break
			}
			if cfg.Type == "" || strings.Contains(cfg.Type, "/") {
				continue
			}
			cfg.path = path
			p.byType[cfg.Type] = append(p.byType[cfg.Type], &cfg)
		}
		return nil
	})
}

// build materialises one fileConfig as a live Update: its UEID is
// identified by (filepath, host-ueid), so the same file on the same
// machine always derives the same entity regardless of attribute edits.
func (p *Plugin) build(cfg *fileConfig) (*entity.Update, error) {
	u := entity.New(cfg.Type)
	u.Attrs().Set("filepath", cfg.path, entity.TraitID)
	u.Attrs().Set("host", p.hostUEID().Hex(), entity.TraitID)

	for name, raw := range cfg.Attrs {
		if spec, ok := raw.(map[string]interface{}); ok {
			traits := traitsFor(spec["type"])
			u.Attrs().Set(name, spec["value"], traits...)
			continue
		}
		u.Attrs().Set(name, raw)
	}

	for _, parent := range cfg.Parents {
		for _, parentUEID := range p.findByType(parent.Type) {
			u.Parents().AddUEID(parentUEID)
		}
	}
	return u, nil
}

func traitsFor(v interface{}) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return []string{s}
}

// hostUEID resolves the local Host entity's UEID through the plugin
// manager, mirroring the original's host_ueid property.
func (p *Plugin) hostUEID() entity.UEID {
	if p.mgr == nil {
		return entity.UEID{}
	}
	results, err := hookspec.CallFindEntity(p.mgr, "Host", nil, false)
	if err != nil || len(results) == 0 || len(results[0].Entities) == 0 {
		return entity.UEID{}
	}
	return results[0].Entities[0].UEID()
}

// findByType resolves every currently known UEID of metype through the
// plugin manager, for parent attachment.
func (p *Plugin) findByType(metype string) []entity.UEID {
	if p.mgr == nil {
		return nil
	}
	results, err := hookspec.CallFindEntity(p.mgr, metype, nil, false)
	if err != nil {
		return nil
	}
	var out []entity.UEID
	for _, r := range results {
		for _, u := range r.Entities {
			out = append(out, u.UEID())
		}
	}
	return out
}
