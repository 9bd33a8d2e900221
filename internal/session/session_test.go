package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rzbill/oplog/internal/errs"
	pebblestore "github.com/rzbill/oplog/internal/storage/pebble"
)

func TestCreateOpenList(t *testing.T) {
	root := t.TempDir()
	s1, err := Create(root, "org/proj/RUN-1", Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := Create(root, "", Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids := []string{s1.ID(), s2.ID()}
	_ = s1.Close()
	_ = s2.Close()

	// Stray entries are not sessions.
	_ = os.Mkdir(filepath.Join(root, "not-a-session"), 0o755)
	_ = os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644)

	got, err := List(root)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != ids[0] || got[1] != ids[1] {
		t.Fatalf("list = %v want %v", got, ids)
	}

	s, err := Open(root, ids[0], Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if s.Meta.Name != "org/proj/RUN-1" || s.Meta.ID != ids[0] || s.Meta.CreatedAtMs == 0 {
		t.Fatalf("meta = %+v", s.Meta)
	}
	if s.Meta.DisplayName() != "org/proj/RUN-1" {
		t.Fatalf("display name = %q", s.Meta.DisplayName())
	}
}

func TestUnnamedDisplayName(t *testing.T) {
	m := Meta{ID: "abc"}
	if m.DisplayName() != "abc" {
		t.Fatalf("display name = %q", m.DisplayName())
	}
}

func TestDoubleOpenIsUsageError(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "x", Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Open(root, s.ID(), Options{}); !errs.IsUsage(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Released on close.
	s2, err := Open(root, s.ID(), Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s2.Close()
	// Close is idempotent.
	if err := s2.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(t.TempDir(), "00000000000000000000000000000000", Options{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMissingRoot(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(got) != 0 {
		t.Fatalf("list = %v, %v", got, err)
	}
}

func TestReadOnlyOpen(t *testing.T) {
	root := t.TempDir()
	s, err := Create(root, "ro", Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = s.Close()

	ro, err := Open(root, s.ID(), Options{ReadOnly: true})
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer ro.Close()
	if !ro.DB.ReadOnly() || ro.Meta.Name != "ro" {
		t.Fatalf("unexpected session %+v", ro.Meta)
	}
	if _, err := Create(root, "x", Options{ReadOnly: true}); !errs.IsUsage(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestEnsureMetaIdempotent(t *testing.T) {
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	m1, err := EnsureMeta(db, "id1", "first")
	if err != nil {
		t.Fatalf("ensure1: %v", err)
	}
	m2, err := EnsureMeta(db, "id1", "second")
	if err != nil {
		t.Fatalf("ensure2: %v", err)
	}
	if m2.Name != "first" || m1.CreatedAtMs != m2.CreatedAtMs {
		t.Fatalf("not idempotent: %+v vs %+v", m1, m2)
	}
}
