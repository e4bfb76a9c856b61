package kvstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cobeio/entityd-sub000/internal/entityerr"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entityd.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddGet(t *testing.T) {
	s := openTemp(t)
	if err := s.Add("foo", []byte("bar")); err != nil {
		t.Fatal(err)
	}
	v, err := s.Get("foo")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "bar" {
		t.Fatalf("got %q", v)
	}
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, err := s.Get("nope")
	if !errors.Is(err, entityerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetManyPrefix(t *testing.T) {
	s := openTemp(t)
	if err := s.AddMany(map[string][]byte{
		"ueids/Host/a": []byte("a"),
		"ueids/Host/b": []byte("b"),
		"ueids/Pod/c":  []byte("c"),
	}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMany("ueids/Host/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
}

func TestDeleteMany(t *testing.T) {
	s := openTemp(t)
	if err := s.AddMany(map[string][]byte{
		"ueids/Host/a": []byte("a"),
		"ueids/Host/b": []byte("b"),
		"ueids/Pod/c":  []byte("c"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteMany("ueids/Host/"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMany("ueids/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 remaining key, got %d", len(got))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entityd.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add("metypes", []byte("Host,Pod")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	v, err := s2.Get("metypes")
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "Host,Pod" {
		t.Fatalf("got %q", v)
	}
}
