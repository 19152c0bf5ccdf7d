package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vouch/internal/config"
	"vouch/internal/identity"
	"vouch/internal/imaging"
	"vouch/internal/models/modeltest"
	"vouch/internal/queue"
	"vouch/internal/testsupport"
)

func newTestManager(t *testing.T, identities, imagesPer int) (*Manager, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithIdentities(identities, imagesPer))
	return newManagerForConfig(t, cfg, identities)
}

func newManagerForConfig(t *testing.T, cfg *config.Config, identities int) (*Manager, *queue.Store) {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)

	mapping, err := identity.Discover(cfg.Paths.DataRoot)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	manager, err := NewManager(Deps{
		Config:      cfg,
		Store:       store,
		Mapping:     mapping,
		Denoiser:    &modeltest.Denoiser{Dim: cfg.Models.EmbeddingDim},
		Autoencoder: &modeltest.Autoencoder{Channels: cfg.Models.LatentChannels, Size: cfg.Models.LatentSize},
		Embedder:    &modeltest.Embedder{Identities: identities, Dimension: cfg.Models.EmbeddingDim},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager, store
}

func TestGatePassedIsConjunctive(t *testing.T) {
	manager, _ := newTestManager(t, 2, 4)

	// Default thresholds: success rate >= 0.6 and mean confidence >= 0.8.
	cases := []struct {
		rate, mean float64
		want       bool
	}{
		{0.7, 0.75, false}, // rate passes, confidence fails
		{0.5, 0.9, false},  // confidence passes, rate fails
		{0.65, 0.85, true}, // both pass
		{0.6, 0.8, true},   // thresholds are inclusive
		{0.59, 0.79, false},
	}
	for _, tc := range cases {
		if got := manager.gatePassed(tc.rate, tc.mean); got != tc.want {
			t.Fatalf("gatePassed(%v, %v) = %v, want %v", tc.rate, tc.mean, got, tc.want)
		}
	}
}

func TestRunIdentityCompletesAllStages(t *testing.T) {
	manager, store := newTestManager(t, 3, 8)
	ctx := context.Background()

	result, err := manager.RunIdentity(ctx, 1)
	if err != nil {
		t.Fatalf("run identity: %v", err)
	}

	if result.IdentityID != 1 || result.IdentityIndex != 1 {
		t.Fatalf("identity fields = %d/%d", result.IdentityID, result.IdentityIndex)
	}
	if result.TotalImages != manager.cfg.Sampling.ImagesPerIdentity {
		t.Fatalf("total images = %d, want %d", result.TotalImages, manager.cfg.Sampling.ImagesPerIdentity)
	}
	if result.BestValAccuracy <= manager.cfg.Classifier.AccuracyGate {
		t.Fatalf("best val accuracy %v did not exceed gate on separable data", result.BestValAccuracy)
	}

	// Generated images landed on disk.
	generated, err := imaging.ListImages(result.GeneratedDir)
	if err != nil {
		t.Fatalf("list generated: %v", err)
	}
	if len(generated) != result.TotalImages {
		t.Fatalf("generated %d files, want %d", len(generated), result.TotalImages)
	}

	// Checkpoint persisted.
	if _, err := os.Stat(result.CheckpointPath); err != nil {
		t.Fatalf("checkpoint missing: %v", err)
	}

	// Result record written and readable.
	recordPath := ResultPath(manager.cfg.Paths.OutputDir, 1)
	loaded, err := ReadResult(recordPath)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if loaded.IdentityID != 1 {
		t.Fatalf("record identity = %d", loaded.IdentityID)
	}

	// Queue item reached a verdict status with result JSON.
	item, err := store.LatestForIdentity(ctx, 1)
	if err != nil {
		t.Fatalf("latest item: %v", err)
	}
	if item == nil || !item.Terminal() {
		t.Fatalf("item not terminal: %+v", item)
	}
	if item.Status == queue.StatusFailed {
		t.Fatalf("run hard-failed: %s", item.FailureReason)
	}
	if item.ResultJSON == "" {
		t.Fatal("result JSON not persisted on item")
	}
	if (item.Status == queue.StatusCompleted) != result.OverallSuccess {
		t.Fatalf("status %s inconsistent with overall success %v", item.Status, result.OverallSuccess)
	}
}

func TestRunIdentityAtDefaultScale(t *testing.T) {
	if testing.Short() {
		t.Skip("full-size pipeline run")
	}

	// Default production workload over the fakes: 300+300 balanced
	// examples, 30 epochs against the 0.7 gate, then 16 images at
	// guidance 15 over 50 inference steps.
	cfg := testsupport.NewConfig(t, testsupport.WithIdentities(8, 300))
	cfg.Sampling.InferenceSteps = 50
	cfg.Sampling.GuidanceScale = 15
	cfg.Sampling.ImagesPerIdentity = 16
	cfg.Classifier.Epochs = 30
	cfg.Classifier.BatchSize = 32
	cfg.Classifier.AccuracyGate = 0.7

	manager, _ := newManagerForConfig(t, cfg, 8)
	result, err := manager.RunIdentity(context.Background(), 7)
	if err != nil {
		t.Fatalf("run identity: %v", err)
	}

	if result.BestValAccuracy <= 0.7 {
		t.Fatalf("best val accuracy %v did not exceed 0.7 on separable data", result.BestValAccuracy)
	}
	if result.TotalImages != 16 {
		t.Fatalf("total images = %d, want 16", result.TotalImages)
	}
	generated, err := imaging.ListImages(result.GeneratedDir)
	if err != nil {
		t.Fatalf("list generated: %v", err)
	}
	if len(generated) != 16 {
		t.Fatalf("generated %d files, want 16", len(generated))
	}

	record, err := ReadResult(ResultPath(cfg.Paths.OutputDir, 7))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if record.TotalImages != 16 {
		t.Fatalf("record total images = %d, want 16", record.TotalImages)
	}
}

func TestRunIdentityMissingImagesGoesToReview(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithIdentities(2, 6))
	// Identity 5 exists but has no reference images.
	if err := os.MkdirAll(filepath.Join(cfg.Paths.DataRoot, "ID_5"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	mapping, err := identity.Discover(cfg.Paths.DataRoot)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	manager, err := NewManager(Deps{
		Config:      cfg,
		Store:       store,
		Mapping:     mapping,
		Denoiser:    &modeltest.Denoiser{Dim: cfg.Models.EmbeddingDim},
		Autoencoder: &modeltest.Autoencoder{Channels: cfg.Models.LatentChannels, Size: cfg.Models.LatentSize},
		Embedder:    &modeltest.Embedder{Identities: 3, Dimension: cfg.Models.EmbeddingDim},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx := context.Background()
	result, err := manager.RunIdentity(ctx, 5)
	if err == nil {
		t.Fatal("expected error for identity without images")
	}
	if result == nil || result.FailureReason == "" {
		t.Fatalf("expected failure reason in result, got %+v", result)
	}

	item, err := store.LatestForIdentity(ctx, 5)
	if err != nil {
		t.Fatalf("latest item: %v", err)
	}
	if item.Status != queue.StatusReview {
		t.Fatalf("status = %s, want review for missing data", item.Status)
	}

	// A result record is written even for failed runs.
	if _, err := os.Stat(ResultPath(cfg.Paths.OutputDir, 5)); err != nil {
		t.Fatalf("result record missing: %v", err)
	}
}

type failingEmbedder struct {
	dim int
}

func (e *failingEmbedder) Embed(int) ([]float32, error) {
	return nil, errors.New("embedding table corrupted")
}

func (e *failingEmbedder) Dim() int   { return e.dim }
func (e *failingEmbedder) Count() int { return 0 }

func TestRunIdentityScoresExistingImagesWhenModelLoadFails(t *testing.T) {
	manager, store := newTestManager(t, 3, 8)
	ctx := context.Background()

	// First run populates the generated directory.
	first, err := manager.RunIdentity(ctx, 1)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	mapping, err := identity.Discover(manager.cfg.Paths.DataRoot)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	broken, err := NewManager(Deps{
		Config:      manager.cfg,
		Store:       store,
		Mapping:     mapping,
		Denoiser:    &modeltest.Denoiser{Dim: manager.cfg.Models.EmbeddingDim},
		Autoencoder: &modeltest.Autoencoder{Channels: manager.cfg.Models.LatentChannels, Size: manager.cfg.Models.LatentSize},
		Embedder:    &failingEmbedder{dim: manager.cfg.Models.EmbeddingDim},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	second, err := broken.RunIdentity(ctx, 1)
	if err != nil {
		t.Fatalf("second run should fall back to existing images: %v", err)
	}
	if second.TotalImages != first.TotalImages {
		t.Fatalf("scored %d images, want %d existing", second.TotalImages, first.TotalImages)
	}
}

func TestRunIdentityUnknownIdentity(t *testing.T) {
	manager, _ := newTestManager(t, 2, 4)
	if _, err := manager.RunIdentity(context.Background(), 99); err == nil {
		t.Fatal("expected error for unknown identity")
	}
}

func TestRunBatchCoversAllIdentities(t *testing.T) {
	manager, _ := newTestManager(t, 3, 8)

	batch, err := manager.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if len(batch.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(batch.Results))
	}
	if batch.Succeeded+batch.Flagged+batch.Errored != 3 {
		t.Fatalf("counts don't add up: %+v", batch)
	}
	for i := 1; i < len(batch.Results); i++ {
		if batch.Results[i].IdentityID <= batch.Results[i-1].IdentityID {
			t.Fatalf("results not sorted by identity: %v then %v",
				batch.Results[i-1].IdentityID, batch.Results[i].IdentityID)
		}
	}
}

func TestWriteResultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	result := &RunResult{
		IdentityID:     4,
		TotalImages:    16,
		SuccessCount:   12,
		SuccessRate:    0.75,
		MeanConfidence: 0.88,
		OverallSuccess: true,
	}
	path, err := WriteResult(dir, result)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := ReadResult(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if loaded.SuccessRate != 0.75 || !loaded.OverallSuccess {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
