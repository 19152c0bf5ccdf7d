package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	if err := EnsureDir(nested); err != nil {
		t.Fatal(err)
	}
	if !DirExists(nested) {
		t.Fatalf("expected %s to exist", nested)
	}

	// Idempotent on an existing directory.
	if err := EnsureDir(nested); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureDir_EmptyPath(t *testing.T) {
	if err := EnsureDir(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !FileExists(path) {
		t.Fatalf("expected file %s to exist", path)
	}
	if FileExists(filepath.Join(dir, "absent.txt")) {
		t.Fatal("expected absent file to report false")
	}
	if FileExists(dir) {
		t.Fatal("directory must not report as regular file")
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	if err := WriteAtomic(path, []byte(`{"ok":true}`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"ok":true}` {
		t.Fatalf("content mismatch: got %q", got)
	}

	// Overwrite keeps the new content and leaves no temp files behind.
	if err := WriteAtomic(path, []byte(`{"ok":false}`), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected a single file after overwrite, found %d entries", len(entries))
	}
}
