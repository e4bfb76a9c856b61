// Package host implements the Host collector: a single example of the
// entityd_find_entity/EntityFinder contract, returning exactly one entity
// per process describing the machine entityd runs on.
//
// Grounded on original_source/entityd/hostme.py's HostEntity: a host UUID
// persisted in the kvstore keyed by FQDN (so it survives restarts; a host
// whose FQDN changes is given a new UUID, and so a new identity), and an
// uptime reading from the kernel.
package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
)

const entityType = "Host"

// Plugin implements hookspec.EntityFinder for the Host entity type.
type Plugin struct {
	store *kvstore.Store
}

// New creates a Host collector backed by store for UUID persistence.
func New(store *kvstore.Store) *Plugin {
	return &Plugin{store: store}
}

// FindEntity returns the single Host entity for this machine when name is
// "Host"; any other name yields no entities.
func (p *Plugin) FindEntity(name string, attrs map[string]interface{}, includeOnDemand bool) (hookspec.FindEntityResult, error) {
	if name != entityType {
		return hookspec.FindEntityResult{}, nil
	}
	if attrs != nil {
		return hookspec.FindEntityResult{}, fmt.Errorf("host: attribute-based filtering is not supported")
	}

	fqdn := fqdn()
	id, err := p.hostUUID(fqdn)
	if err != nil {
		return hookspec.FindEntityResult{}, fmt.Errorf("host: %w", err)
	}

	u := entity.New(entityType)
	u.Attrs().Set("uuid", id, entity.TraitID)
	u.Attrs().Set("fqdn", fqdn)
	u.Attrs().Set("uptime", uptimeSeconds(), entity.TraitCounter, entity.TraitSeconds)

	return hookspec.FindEntityResult{Entities: []*entity.Update{u}}, nil
}

// hostUUID returns a UUID stable for fqdn across restarts, minting and
// persisting a new one the first time this fqdn is seen.
func (p *Plugin) hostUUID(fqdn string) (string, error) {
	key := "host:uuid:" + fqdn
	if v, err := p.store.Get(key); err == nil {
		return string(v), nil
	}
	id := uuid.New().String()
	if err := p.store.Add(key, []byte(id)); err != nil {
		return "", fmt.Errorf("persisting host uuid: %w", err)
	}
	return id, nil
}

func fqdn() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// uptimeSeconds reads the kernel uptime from /proc/uptime. On a platform
// without it (or if the read fails) it returns zero rather than failing
// the whole collection cycle over one attribute.
func uptimeSeconds() int64 {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return int64(seconds)
}
