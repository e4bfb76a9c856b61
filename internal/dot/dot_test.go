package dot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cobeio/entityd-sub000/internal/config"
	"github.com/cobeio/entityd-sub000/internal/entity"
)

func TestCollectionAfterNoOpWithoutPath(t *testing.T) {
	e := New("", config.DotForeignDefault, false, zerolog.Nop())
	if err := e.CollectionAfter(nil); err != nil {
		t.Fatal(err)
	}
}

func TestCollectionAfterWritesNodesAndEdges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.dot")
	e := New(path, config.DotForeignDefault, false, zerolog.Nop())

	parent := entity.New("Host")
	parent.Attrs().Set("hostname", "web1", entity.TraitID)
	child := entity.New("Kubernetes:Pod")
	child.Attrs().Set("name", "pod1", entity.TraitID)
	child.Parents().Add(parent)

	if err := e.CollectionAfter([]*entity.Update{parent, child}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "digraph G {") {
		t.Fatalf("expected DOT header, got %q", out[:20])
	}
	if !strings.Contains(out, parent.UEID().Hex()) {
		t.Fatal("expected parent UEID rendered as a node")
	}
	if !strings.Contains(out, child.UEID().Hex()) {
		t.Fatal("expected child UEID rendered as a node")
	}
	if !strings.Contains(out, parent.UEID().Hex()+`" -> "`+child.UEID().Hex()) {
		t.Fatal("expected an edge from parent to child")
	}
}

func TestCollectionAfterExcludesForeignEdgesWhenConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.dot")
	e := New(path, config.DotForeignExclude, false, zerolog.Nop())

	child := entity.New("Host")
	child.Attrs().Set("hostname", "web1", entity.TraitID)
	foreignParent := entity.New("Host").UEID()
	child.Parents().AddUEID(foreignParent)

	if err := e.CollectionAfter([]*entity.Update{child}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "->") {
		t.Fatal("expected the foreign-parent edge to be excluded")
	}
}
