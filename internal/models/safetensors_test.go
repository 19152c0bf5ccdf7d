package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"vouch/internal/services"
)

func writeSafetensors(t *testing.T, key string, rows, cols int) string {
	t.Helper()

	numel := rows * cols
	body := make([]byte, numel*4)
	for i := 0; i < numel; i++ {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(float32(i)*0.5))
	}

	header := fmt.Sprintf(`{"%s":{"dtype":"F32","shape":[%d,%d],"data_offsets":[0,%d]}}`,
		key, rows, cols, len(body))

	file := make([]byte, 8+len(header)+len(body))
	binary.LittleEndian.PutUint64(file[:8], uint64(len(header)))
	copy(file[8:], header)
	copy(file[8+len(header):], body)

	path := filepath.Join(t.TempDir(), "embeddings.safetensors")
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write safetensors: %v", err)
	}
	return path
}

func TestOpenEmbeddingTableReadsRows(t *testing.T) {
	path := writeSafetensors(t, "embedding.weight", 3, 4)

	table, err := OpenEmbeddingTable(path, 4)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if table.Count() != 3 || table.Dim() != 4 {
		t.Fatalf("count/dim = %d/%d, want 3/4", table.Count(), table.Dim())
	}

	row, err := table.Embed(1)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	want := []float32{2, 2.5, 3, 3.5}
	for i, w := range want {
		if row[i] != w {
			t.Fatalf("row[%d] = %v, want %v", i, row[i], w)
		}
	}
}

func TestOpenEmbeddingTableStripsModulePrefix(t *testing.T) {
	path := writeSafetensors(t, "module.embedding.weight", 2, 3)

	table, err := OpenEmbeddingTable(path, 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if table.Count() != 2 {
		t.Fatalf("count = %d, want 2", table.Count())
	}
}

func TestOpenEmbeddingTableRejectsDimMismatch(t *testing.T) {
	path := writeSafetensors(t, "weight", 2, 3)
	if _, err := OpenEmbeddingTable(path, 8); !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestOpenEmbeddingTableMissingFile(t *testing.T) {
	_, err := OpenEmbeddingTable(filepath.Join(t.TempDir(), "nope.safetensors"), 4)
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}

func TestEmbedIndexOutOfRange(t *testing.T) {
	path := writeSafetensors(t, "weight", 2, 3)
	table, err := OpenEmbeddingTable(path, 3)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := table.Embed(2); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := table.Embed(-1); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestFloat16Conversion(t *testing.T) {
	cases := map[uint16]float32{
		0x3C00: 1.0,
		0xBC00: -1.0,
		0x0000: 0.0,
		0x4000: 2.0,
	}
	for bits, want := range cases {
		if got := float16ToFloat32(bits); got != want {
			t.Fatalf("float16ToFloat32(%#x) = %v, want %v", bits, got, want)
		}
	}
}
