package monitor

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/config"
	"github.com/cobeio/entityd-sub000/internal/entity"
	"github.com/cobeio/entityd-sub000/internal/hookspec"
	"github.com/cobeio/entityd-sub000/internal/kvstore"
	"github.com/cobeio/entityd-sub000/internal/pm"
)

type fakeFinder struct {
	result hookspec.FindEntityResult
	err    error
}

func (f *fakeFinder) FindEntity(name string, attrs map[string]interface{}, includeOnDemand bool) (hookspec.FindEntityResult, error) {
	return f.result, f.err
}

type sentRecorder struct {
	sent []*entity.Update
}

func (s *sentRecorder) SendEntity(e *entity.Update) error {
	s.sent = append(s.sent, e)
	return nil
}

func newTestSetup(t *testing.T) (*Monitor, *pm.Manager, *kvstore.Store, *config.Config) {
	t.Helper()
	log := zerolog.Nop()
	mgr := pm.New(log)
	if err := hookspec.AddHookDefs(mgr); err != nil {
		t.Fatal(err)
	}
	store, err := kvstore.Open(filepath.Join(t.TempDir(), "entityd.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	cfg := config.New()
	if err := cfg.AddEntity("Host", "host"); err != nil {
		t.Fatal(err)
	}
	m := New(mgr, store, cfg, log)
	if _, err := m.Register(mgr, "monitor"); err != nil {
		t.Fatal(err)
	}
	return m, mgr, store, cfg
}

func registerFinder(t *testing.T, mgr *pm.Manager, name string, result hookspec.FindEntityResult) {
	t.Helper()
	f := &fakeFinder{result: result}
	if _, err := hookspec.RegisterFindEntity(mgr, name, f, hookspec.RegisterOpts{}); err != nil {
		t.Fatal(err)
	}
}

func registerSender(t *testing.T, mgr *pm.Manager, name string) *sentRecorder {
	t.Helper()
	rec := &sentRecorder{}
	if _, err := hookspec.RegisterEntitySender(mgr, name, rec, hookspec.RegisterOpts{}); err != nil {
		t.Fatal(err)
	}
	return rec
}

func hostUpdate(hostname string) *entity.Update {
	u := entity.New("Host")
	u.Attrs().Set("hostname", hostname, entity.TraitID)
	return u
}

// TestCollectSendsDiscoveredEntities covers the basic path: one producer,
// one entity, one send.
func TestCollectSendsDiscoveredEntities(t *testing.T) {
	m, mgr, _, _ := newTestSetup(t)
	u := hostUpdate("web1")
	registerFinder(t, mgr, "host", hookspec.FindEntityResult{Entities: []*entity.Update{u}})
	rec := registerSender(t, mgr, "recorder")

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected 1 sent update, got %d", len(rec.sent))
	}
	if rec.sent[0].UEID() != u.UEID() {
		t.Fatalf("sent update UEID mismatch")
	}
}

// TestCollectMergesDuplicateUEIDs covers property 7: two producers naming
// the same entity must merge into a single send, not two.
func TestCollectMergesDuplicateUEIDs(t *testing.T) {
	m, mgr, _, _ := newTestSetup(t)
	u1 := hostUpdate("web1")
	u1.Attrs().Set("cpu", 1)
	u2 := hostUpdate("web1")
	u2.Attrs().Set("mem", 2)
	registerFinder(t, mgr, "producer-a", hookspec.FindEntityResult{Entities: []*entity.Update{u1}})
	registerFinder(t, mgr, "producer-b", hookspec.FindEntityResult{Entities: []*entity.Update{u2}})
	rec := registerSender(t, mgr, "recorder")

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected 1 merged update, got %d", len(rec.sent))
	}
	if _, _, ok := rec.sent[0].Attrs().Get("cpu"); !ok {
		t.Fatal("expected merged update to carry cpu attribute")
	}
	if _, _, ok := rec.sent[0].Attrs().Get("mem"); !ok {
		t.Fatal("expected merged update to carry mem attribute")
	}
}

// TestCollectSynthesisesTombstoneOnDisappearance covers scenario S2: an
// entity present in one cycle and absent the next must produce a
// tombstone carrying its frozen UEID.
func TestCollectSynthesisesTombstoneOnDisappearance(t *testing.T) {
	m, mgr, _, _ := newTestSetup(t)
	u := hostUpdate("web1")
	wantUEID := u.UEID()
	registerFinder(t, mgr, "host", hookspec.FindEntityResult{Entities: []*entity.Update{u}})
	rec := registerSender(t, mgr, "recorder")

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected 1 sent update in first cycle, got %d", len(rec.sent))
	}

	if err := mgr.Unregister("host"); err != nil {
		t.Fatal(err)
	}
	registerFinder(t, mgr, "host", hookspec.FindEntityResult{})

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 2 {
		t.Fatalf("expected tombstone sent in second cycle, total 2, got %d", len(rec.sent))
	}
	tomb := rec.sent[1]
	if tomb.Exists() {
		t.Fatal("expected tombstone with exists=false")
	}
	if tomb.UEID() != wantUEID {
		t.Fatalf("tombstone UEID %s does not match original %s", tomb.UEID(), wantUEID)
	}
}

// TestCollectSendsOnDemandSeparatelyFromBatch covers the on-demand rule:
// on-demand updates are sent but never count toward a last-batch set
// (neither the polled type's nor their own), so they can never themselves
// trigger a tombstone.
func TestCollectSendsOnDemandSeparatelyFromBatch(t *testing.T) {
	m, mgr, _, _ := newTestSetup(t)
	onDemand := entity.New("Process")
	onDemand.Attrs().Set("pid", 42, entity.TraitID)
	registerFinder(t, mgr, "host", hookspec.FindEntityResult{OnDemand: []*entity.Update{onDemand}})
	rec := registerSender(t, mgr, "recorder")

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if len(rec.sent) != 1 {
		t.Fatalf("expected the on-demand update to be sent, got %d", len(rec.sent))
	}

	m.mu.Lock()
	_, tracked := m.lastBatch["Host"]
	_, trackedOwn := m.lastBatch["Process"]
	m.mu.Unlock()
	if tracked {
		t.Fatal("on-demand updates must not populate last-batch tracking for the polled type")
	}
	if trackedOwn {
		t.Fatal("on-demand updates must not populate last-batch tracking for their own type")
	}
}

// TestSessionStartFinishRoundTrip covers persistence of last_batch across a
// session boundary via the kvstore.
func TestSessionStartFinishRoundTrip(t *testing.T) {
	m, mgr, store, cfg := newTestSetup(t)
	u := hostUpdate("web1")
	registerFinder(t, mgr, "host", hookspec.FindEntityResult{Entities: []*entity.Update{u}})
	registerSender(t, mgr, "recorder")

	if err := m.CollectEntities(); err != nil {
		t.Fatal(err)
	}
	if err := m.SessionFinish(); err != nil {
		t.Fatal(err)
	}

	m2 := New(mgr, store, cfg, zerolog.Nop())
	if err := m2.SessionStart(); err != nil {
		t.Fatal(err)
	}
	m2.mu.Lock()
	defer m2.mu.Unlock()
	if _, ok := m2.lastBatch["Host"][u.UEID()]; !ok {
		t.Fatal("expected restored last batch to contain the previously seen UEID")
	}
}
