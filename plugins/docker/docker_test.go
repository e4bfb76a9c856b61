package docker

import "testing"

func TestContainerNameStripsLeadingSlash(t *testing.T) {
	if got := containerName([]string{"/web1"}); got != "web1" {
		t.Fatalf("got %q", got)
	}
}

func TestContainerNameEmptyWhenNoNames(t *testing.T) {
	if got := containerName(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestDockerResourceUEIDStableForSameID(t *testing.T) {
	a := dockerResourceUEID("Docker:Container", "abc123")
	b := dockerResourceUEID("Docker:Container", "abc123")
	if a != b {
		t.Fatal("expected the same type+id to derive the same UEID")
	}
}

func TestDockerResourceUEIDDiffersByType(t *testing.T) {
	a := dockerResourceUEID("Docker:Container", "abc123")
	b := dockerResourceUEID("Docker:Daemon", "abc123")
	if a == b {
		t.Fatal("expected different entity types to derive different UEIDs for the same id")
	}
}

func TestNewWithoutDaemonDoesNotEmit(t *testing.T) {
	p := &Plugin{}
	updates, err := p.EmitEntities()
	if err != nil {
		t.Fatal(err)
	}
	if updates != nil {
		t.Fatal("expected no entities without a daemon connection")
	}
}
