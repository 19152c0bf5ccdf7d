package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vouch/internal/services"
)

func mkdirs(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", name, err)
		}
	}
}

func TestDiscoverSortsByIdentityID(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "ID_12", "ID_3", "ID_0", "ID_7")

	mapping, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	wantIDs := []int{0, 3, 7, 12}
	gotIDs := mapping.IDs()
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("got %d ids, want %d", len(gotIDs), len(wantIDs))
	}
	for i, want := range wantIDs {
		if gotIDs[i] != want {
			t.Fatalf("ids[%d] = %d, want %d", i, gotIDs[i], want)
		}
		idx, err := mapping.Index(want)
		if err != nil {
			t.Fatalf("index %d: %v", want, err)
		}
		if idx != i {
			t.Fatalf("index for id %d = %d, want %d", want, idx, i)
		}
	}
	if mapping.Count() != 4 {
		t.Fatalf("count = %d, want 4", mapping.Count())
	}
}

func TestDiscoverSkipsNonIdentityEntries(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "ID_1", "ID_extra", "cache", "ID_02")
	if err := os.WriteFile(filepath.Join(root, "ID_9"), []byte("file"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	mapping, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if mapping.Count() != 1 {
		t.Fatalf("count = %d, want 1", mapping.Count())
	}
	if _, err := mapping.Index(1); err != nil {
		t.Fatalf("index 1: %v", err)
	}
}

func TestDiscoverEmptyRootIsMissingData(t *testing.T) {
	_, err := Discover(t.TempDir())
	if !errors.Is(err, services.ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestIndexUnknownIdentity(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "ID_5")

	mapping, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, err := mapping.Index(99); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestDirPointsIntoDataRoot(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "ID_4")

	mapping, err := Discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	dir, err := mapping.Dir(4)
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if dir != filepath.Join(root, "ID_4") {
		t.Fatalf("dir = %s", dir)
	}
}
