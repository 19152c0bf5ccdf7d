package classifier

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"vouch/internal/dataset"
	"vouch/internal/services"
)

// separableExamples builds a trivially separable binary problem: class 1
// clusters around high feature values, class 0 around low ones.
func separableExamples(n, dim int) []dataset.Example {
	out := make([]dataset.Example, n)
	for i := range out {
		features := make([]float32, dim)
		label := float32(i % 2)
		base := float32(0.1)
		if label == 1 {
			base = 0.9
		}
		for j := range features {
			features[j] = base + 0.01*float32(j%3)
		}
		out[i] = dataset.Example{Features: features, Label: label}
	}
	return out
}

func TestNewNetworkDeterministicInit(t *testing.T) {
	a := NewNetwork(12, 42)
	b := NewNetwork(12, 42)
	for l := range a.Weights {
		for i := range a.Weights[l] {
			if a.Weights[l][i] != b.Weights[l][i] {
				t.Fatal("same seed produced different weights")
			}
		}
	}
	if a.Sizes[0] != 12 || a.Sizes[len(a.Sizes)-1] != 1 {
		t.Fatalf("sizes = %v", a.Sizes)
	}
}

func TestPredictRange(t *testing.T) {
	n := NewNetwork(8, 1)
	p, err := n.Predict(make([]float32, 8))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if p < 0 || p > 1 {
		t.Fatalf("prediction %v outside [0, 1]", p)
	}
	if _, err := n.Predict(make([]float32, 5)); err == nil {
		t.Fatal("expected dimension error")
	}
}

func TestTrainLearnsSeparableProblem(t *testing.T) {
	examples := separableExamples(40, 6)
	train, val, err := dataset.Split(examples, 0.8, 3)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	trainer, err := NewTrainer(TrainerOptions{Epochs: 30, BatchSize: 8, LearningRate: 0.005, Seed: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	result, err := trainer.Train(context.Background(), train, val)
	if err != nil {
		t.Fatalf("train: %v", err)
	}

	if len(result.History) != 30 {
		t.Fatalf("history length = %d, want 30", len(result.History))
	}
	if best := BestValAccuracy(result.History); best < 0.9 {
		t.Fatalf("best val accuracy = %v, want >= 0.9 on separable data", best)
	}
	for i, epoch := range result.History {
		if epoch.Epoch != i {
			t.Fatalf("epoch %d recorded as %d", i, epoch.Epoch)
		}
		if math.IsNaN(epoch.TrainLoss) || math.IsNaN(epoch.ValLoss) {
			t.Fatalf("NaN loss at epoch %d", i)
		}
	}
}

func TestTrainRejectsEmptySplits(t *testing.T) {
	trainer, err := NewTrainer(TrainerOptions{Epochs: 1, BatchSize: 4, LearningRate: 0.001, Seed: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	_, err = trainer.Train(context.Background(), nil, separableExamples(4, 3))
	if !errors.Is(err, services.ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestTrainCancellation(t *testing.T) {
	trainer, err := NewTrainer(TrainerOptions{Epochs: 100, BatchSize: 4, LearningRate: 0.001, Seed: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	examples := separableExamples(10, 4)
	_, err = trainer.Train(ctx, examples[:8], examples[8:])
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewTrainerValidation(t *testing.T) {
	cases := []TrainerOptions{
		{Epochs: 0, BatchSize: 4, LearningRate: 0.001},
		{Epochs: 5, BatchSize: 0, LearningRate: 0.001},
		{Epochs: 5, BatchSize: 4, LearningRate: 0},
	}
	for i, opts := range cases {
		if _, err := NewTrainer(opts); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("case %d: expected ErrConfiguration, got %v", i, err)
		}
	}
}

func TestBestValAccuracy(t *testing.T) {
	history := []EpochStats{
		{ValAccuracy: 0.5},
		{ValAccuracy: 0.82},
		{ValAccuracy: 0.74},
	}
	if got := BestValAccuracy(history); got != 0.82 {
		t.Fatalf("best = %v, want 0.82", got)
	}
	if got := BestValAccuracy(nil); got != 0 {
		t.Fatalf("best of empty = %v, want 0", got)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	network := NewNetwork(6, 9)
	cp := &Checkpoint{
		IdentityID:  7,
		FeatureSize: 6,
		Network:     network,
		History:     []EpochStats{{Epoch: 0, ValAccuracy: 0.75, Duration: time.Second}},
		CreatedAt:   time.Now().UTC(),
	}

	path := filepath.Join(t.TempDir(), "checkpoints", "identity_07_classifier.json.zst")
	if err := SaveCheckpoint(cp, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.IdentityID != 7 || loaded.FeatureSize != 6 {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}
	if len(loaded.History) != 1 || loaded.History[0].ValAccuracy != 0.75 {
		t.Fatalf("history mismatch: %+v", loaded.History)
	}

	// Loaded weights predict identically to the originals.
	features := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	want, err := network.Predict(features)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	got, err := loaded.Network.Predict(features)
	if err != nil {
		t.Fatalf("predict loaded: %v", err)
	}
	if got != want {
		t.Fatalf("loaded prediction %v differs from %v", got, want)
	}
}

func TestLoadCheckpointMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.json.zst"))
	if !errors.Is(err, services.ErrModelLoad) {
		t.Fatalf("expected ErrModelLoad, got %v", err)
	}
}
