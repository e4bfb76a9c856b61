package declentity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

func writeYAML(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func newTestManager(t *testing.T) *pm.Manager {
	t.Helper()
	mgr := pm.New(zerolog.Nop())
	if err := hookspec.AddHookDefs(mgr); err != nil {
		t.Fatal(err)
	}
	return mgr
}

type fakeHost struct{ ueid entity.UEID }

func (f *fakeHost) FindEntity(name string, attrs map[string]interface{}, includeOnDemand bool) (hookspec.FindEntityResult, error) {
	if name != "Host" {
		return hookspec.FindEntityResult{}, nil
	}
	u := entity.New("Host")
	u.Attrs().Set("fqdn", "h1.example", entity.TraitID)
	return hookspec.FindEntityResult{Entities: []*entity.Update{u}}, nil
}

func newStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "entityd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFindEntityReturnsConfiguredEntity(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "app.yaml", "type: App\nattrs:\n  version: \"1.2\"\n")

	mgr := newTestManager(t)
	if _, err := hookspec.RegisterFindEntity(mgr, "host", &fakeHost{}, hookspec.RegisterOpts{}); err != nil {
		t.Fatal(err)
	}

	p := New(dir, mgr, newStore(t))
	if err := p.SessionStart(); err != nil {
		t.Fatal(err)
	}

	res, err := p.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 1 {
		t.Fatalf("expected 1 entity, got %d", len(res.Entities))
	}
	if _, _, ok := res.Entities[0].Attrs().Get("version"); !ok {
		t.Fatal("expected version attribute to be carried through")
	}
}

func TestFindEntityUnknownTypeReturnsNothing(t *testing.T) {
	mgr := newTestManager(t)
	p := New(t.TempDir(), mgr, newStore(t))
	if err := p.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res, err := p.FindEntity("NoSuchType", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 0 {
		t.Fatal("expected no entities for an unconfigured type")
	}
}

func TestSameFileDerivesSameUEIDAcrossLoads(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "app.yaml", "type: App\nattrs:\n  version: \"1.2\"\n")

	mgr := newTestManager(t)
	if _, err := hookspec.RegisterFindEntity(mgr, "host", &fakeHost{}, hookspec.RegisterOpts{}); err != nil {
		t.Fatal(err)
	}

	p1 := New(dir, mgr, newStore(t))
	if err := p1.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res1, err := p1.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}

	p2 := New(dir, mgr, newStore(t))
	if err := p2.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res2, err := p2.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}

	if res1.Entities[0].UEID() != res2.Entities[0].UEID() {
		t.Fatal("expected the same file to derive the same UEID across independent loads")
	}
}

func TestRemovedFileProducesTombstoneOnce(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "app.yaml", "type: App\nattrs:\n  version: \"1.2\"\n")
	store := newStore(t)
	mgr := newTestManager(t)
	if _, err := hookspec.RegisterFindEntity(mgr, "host", &fakeHost{}, hookspec.RegisterOpts{}); err != nil {
		t.Fatal(err)
	}

	p1 := New(dir, mgr, store)
	if err := p1.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res, err := p1.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	wantUEID := res.Entities[0].UEID()
	if err := p1.SessionFinish(); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "app.yaml")); err != nil {
		t.Fatal(err)
	}

	p2 := New(dir, mgr, store)
	if err := p2.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res2, err := p2.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Entities) != 1 {
		t.Fatalf("expected exactly one tombstone, got %d", len(res2.Entities))
	}
	if res2.Entities[0].Exists() {
		t.Fatal("expected a tombstone, not a live entity")
	}
	if res2.Entities[0].UEID() != wantUEID {
		t.Fatal("expected the tombstone to carry the removed entity's original UEID")
	}

	res3, err := p2.FindEntity("App", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res3.Entities) != 0 {
		t.Fatal("expected the tombstone to be reported only once per session")
	}
}

func TestAttributeFilterIsRejected(t *testing.T) {
	mgr := newTestManager(t)
	p := New(t.TempDir(), mgr, newStore(t))
	if _, err := p.FindEntity("App", map[string]interface{}{"x": 1}, false); err == nil {
		t.Fatal("expected an error for attribute-based filtering, which is unsupported")
	}
}

func TestInvalidTypeNameIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeYAML(t, dir, "bad.yaml", "type: Has/Slash\nattrs:\n  x: 1\n")
	mgr := newTestManager(t)
	p := New(dir, mgr, newStore(t))
	if err := p.SessionStart(); err != nil {
		t.Fatal(err)
	}
	res, err := p.FindEntity("Has/Slash", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entities) != 0 {
		t.Fatal("expected a type name containing '/' to be rejected")
	}
}
