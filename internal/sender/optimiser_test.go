package sender

import (
	"testing"

	"github.com/cobeio/entityd-sub000/internal/entity"
)

func makeHost(hostname string, cpu int) *entity.Update {
	u := entity.New("Host")
	u.Attrs().Set("hostname", hostname, entity.TraitID)
	u.Attrs().Set("cpu_count", cpu)
	return u
}

func TestOptimiserDisabledAlwaysSendsEverything(t *testing.T) {
	o := newOptimiser(false, 5)
	u := makeHost("web1", 4)

	for i := 0; i < 3; i++ {
		send := o.apply(u)
		if len(send) != 2 {
			t.Fatalf("cycle %d: expected both attrs sent while disabled, got %v", i, send)
		}
	}
}

func TestOptimiserDropsUnchangedAttrsWithinWindow(t *testing.T) {
	o := newOptimiser(true, 100)
	ueid := makeHost("web1", 4).UEID()
	o.cycles[ueid] = 0 // force the first apply to land inside the optimised window

	u1 := makeHost("web1", 4)
	send1 := o.apply(u1)
	if len(send1) != 2 {
		t.Fatalf("first sighting of an attribute must always be sent, got %v", send1)
	}

	u2 := makeHost("web1", 4)
	send2 := o.apply(u2)
	if len(send2) != 0 {
		t.Fatalf("expected unchanged attrs to be dropped, got %v", send2)
	}
}

func TestOptimiserAlwaysSendsChangedAttr(t *testing.T) {
	o := newOptimiser(true, 100)
	ueid := makeHost("web1", 4).UEID()
	o.cycles[ueid] = 0

	o.apply(makeHost("web1", 4))
	send := o.apply(makeHost("web1", 8))
	if _, ok := send["cpu_count"]; !ok {
		t.Fatalf("expected changed attribute to be sent, got %v", send)
	}
	if _, ok := send["hostname"]; ok {
		t.Fatalf("expected unchanged hostname to be dropped, got %v", send)
	}
}

func TestOptimiserForcesFullRefreshAtFrequency(t *testing.T) {
	o := newOptimiser(true, 2)
	u := makeHost("web1", 4)
	ueid := u.UEID()
	o.cycles[ueid] = 0

	o.apply(u)                 // cycle count -> 1, optimised window
	send := o.apply(makeHost("web1", 4)) // cycle count -> 2, forces full refresh
	if len(send) != 2 {
		t.Fatalf("expected forced full refresh to resend everything, got %v", send)
	}
}

func TestOptimiserForgetsAttrsOnTombstone(t *testing.T) {
	o := newOptimiser(true, 100)
	u := makeHost("web1", 4)
	ueid := u.UEID()
	o.cycles[ueid] = 0
	o.apply(u)

	tomb := entity.NewTombstone("Host", ueid)
	o.apply(tomb)

	if _, ok := o.seen[ueid]; ok {
		t.Fatal("expected tombstone to clear remembered attribute state for its UEID")
	}
}
