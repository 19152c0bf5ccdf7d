// Package testsupport provides shared helpers for package tests: temp
// rooted configs, seeded identity datasets, and queue store setup.
package testsupport

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"vouch/internal/config"
	"vouch/internal/identity"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The classifier workload is shrunk so tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataRoot = filepath.Join(base, "data")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.CheckpointDir = filepath.Join(base, "checkpoints")
	cfgVal.Models.DenoiserPath = filepath.Join(base, "models", "denoiser.onnx")
	cfgVal.Models.AutoencoderPath = filepath.Join(base, "models", "autoencoder")
	cfgVal.Models.EmbeddingPath = filepath.Join(base, "models", "embeddings.safetensors")
	cfgVal.Models.EmbeddingDim = 8
	cfgVal.Models.LatentSize = 8
	cfgVal.Sampling.InferenceSteps = 5
	cfgVal.Sampling.ImagesPerIdentity = 2
	cfgVal.Classifier.Epochs = 12
	cfgVal.Classifier.BatchSize = 4
	cfgVal.Classifier.LearningRate = 0.01
	cfgVal.Classifier.FeatureSize = 4
	cfgVal.Recon.Samples = 2

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Paths.DataRoot,
		cfgVal.Paths.OutputDir,
		cfgVal.Paths.LogDir,
		cfgVal.Paths.StateDir,
		cfgVal.Paths.CheckpointDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	if err := cfgVal.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithIdentities seeds the data root with the given number of identity
// directories, each holding imagesPer reference images.
func WithIdentities(count, imagesPer int) ConfigOption {
	return func(b *configBuilder) {
		for id := 0; id < count; id++ {
			SeedIdentityImages(b.t, b.cfg.Paths.DataRoot, id, imagesPer)
		}
	}
}

// WithSamplingSeed fixes the sampling seed on the test config.
func WithSamplingSeed(seed int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sampling.Seed = seed
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataRoot)
}

// SeedIdentityImages populates an identity directory with small PNG
// images whose pixels vary by identity and index, so classifiers have
// signal to separate them.
func SeedIdentityImages(t testing.TB, dataRoot string, identityID, count int) {
	t.Helper()

	dir := filepath.Join(dataRoot, identity.DirName(identityID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, fmt.Sprintf("ref_%03d.png", i))
		WriteImage(t, path, 8, color.RGBA{
			R: uint8(40 + identityID*50),
			G: uint8(200 - identityID*50),
			B: uint8(20 + i*5),
			A: 255,
		})
	}
}

// WriteImage writes a solid-color square PNG to path.
func WriteImage(t testing.TB, path string, size int, fill color.RGBA) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

// WriteFile fills the target path with the requested number of bytes.
// A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
