package preflight

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if result := CheckDirectoryAccess("test", dir); !result.Passed {
		t.Fatalf("writable dir failed: %+v", result)
	}
	if result := CheckDirectoryAccess("test", filepath.Join(dir, "missing")); result.Passed {
		t.Fatalf("missing dir passed: %+v", result)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if result := CheckDirectoryAccess("test", file); result.Passed {
		t.Fatalf("regular file passed as directory: %+v", result)
	}
}

func TestCheckModelFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if result := CheckModelFile("model", path); !result.Passed {
		t.Fatalf("readable model failed: %+v", result)
	}

	empty := filepath.Join(dir, "empty.onnx")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if result := CheckModelFile("model", empty); result.Passed {
		t.Fatalf("empty model passed: %+v", result)
	}

	if result := CheckModelFile("model", filepath.Join(dir, "missing.onnx")); result.Passed {
		t.Fatalf("missing model passed: %+v", result)
	}
	if result := CheckModelFile("model", ""); result.Passed {
		t.Fatalf("unconfigured path passed: %+v", result)
	}
}

func TestCheckDataRoot(t *testing.T) {
	root := t.TempDir()
	if result := CheckDataRoot(root); result.Passed {
		t.Fatalf("empty data root passed: %+v", result)
	}

	if err := os.MkdirAll(filepath.Join(root, "ID_0"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "ID_1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	result := CheckDataRoot(root)
	if !result.Passed {
		t.Fatalf("seeded data root failed: %+v", result)
	}
}

func TestAllPassed(t *testing.T) {
	if AllPassed(nil) {
		t.Fatal("empty results should not pass")
	}
	passing := []Result{{Passed: true}, {Passed: true}}
	if !AllPassed(passing) {
		t.Fatal("all-passing results should pass")
	}
	mixed := []Result{{Passed: true}, {Passed: false}}
	if AllPassed(mixed) {
		t.Fatal("mixed results should not pass")
	}
}
