package sampler

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"vouch/internal/models/modeltest"
	"vouch/internal/schedule"
	"vouch/internal/services"
	"vouch/internal/tensor"
)

func testSchedule(t *testing.T) *schedule.Schedule {
	t.Helper()
	s, err := schedule.New(schedule.Params{
		TrainTimesteps: 1000,
		BetaStart:      0.00085,
		BetaEnd:        0.012,
		Family:         schedule.FamilyScaledLinear,
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return s
}

func TestGuidedDenoiserRunsTwoEvaluations(t *testing.T) {
	fake := &modeltest.Denoiser{Dim: 8, LatentShape: []int{1, 4, 8, 8}}
	guided := NewGuidedDenoiser(fake, 7.5, 8)

	latent := tensor.Noise(rand.New(rand.NewSource(1)), 1, 4, 8, 8)
	cond := make([]float32, 8)
	for i := range cond {
		cond[i] = 0.5
	}

	if _, err := guided.Predict(context.Background(), latent, 100, cond); err != nil {
		t.Fatalf("predict: %v", err)
	}
	if fake.Calls() != 2 {
		t.Fatalf("denoiser ran %d times, want 2", fake.Calls())
	}
}

func TestGuidedDenoiserZeroScaleMatchesUnconditional(t *testing.T) {
	fake := &modeltest.Denoiser{Dim: 8, LatentShape: []int{1, 4, 8, 8}}
	guided := NewGuidedDenoiser(fake, 0, 8)

	latent := tensor.Noise(rand.New(rand.NewSource(2)), 1, 4, 8, 8)
	cond := make([]float32, 8)
	for i := range cond {
		cond[i] = 0.9
	}

	got, err := guided.Predict(context.Background(), latent, 50, cond)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	uncond, err := fake.Predict(context.Background(), latent, 50, make([]float32, 8))
	if err != nil {
		t.Fatalf("uncond predict: %v", err)
	}
	for i := range got.Data {
		if got.Data[i] != uncond.Data[i] {
			t.Fatalf("element %d differs with zero guidance: %v vs %v", i, got.Data[i], uncond.Data[i])
		}
	}
}

func newTestSampler(t *testing.T, denoiser *modeltest.Denoiser, steps int) *Sampler {
	t.Helper()
	s, err := New(Options{
		Schedule:       testSchedule(t),
		Denoiser:       NewGuidedDenoiser(denoiser, 15, 8),
		InferenceSteps: steps,
		LatentChannels: 4,
		LatentSize:     8,
	})
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	return s
}

func TestRunProducesFiniteLatentDeterministically(t *testing.T) {
	fake := &modeltest.Denoiser{Dim: 8}
	s := newTestSampler(t, fake, 10)

	cond := make([]float32, 8)
	for i := range cond {
		cond[i] = 0.1
	}

	a, err := s.Run(context.Background(), cond, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.State() != StateComplete {
		t.Fatalf("state = %v, want complete", s.State())
	}
	for i, v := range a.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("non-finite latent value at %d", i)
		}
	}

	b, err := s.Run(context.Background(), cond, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("same seed produced different latents at %d", i)
		}
	}
}

func TestRunEvaluationCount(t *testing.T) {
	fake := &modeltest.Denoiser{Dim: 8}
	s := newTestSampler(t, fake, 10)

	if _, err := s.Run(context.Background(), make([]float32, 8), rand.New(rand.NewSource(1))); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.Calls() != 20 {
		t.Fatalf("denoiser ran %d times, want 20 for 10 guided steps", fake.Calls())
	}
}

func TestRunCancellation(t *testing.T) {
	fake := &modeltest.Denoiser{Dim: 8}
	s := newTestSampler(t, fake, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, make([]float32, 8), rand.New(rand.NewSource(1))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunFlagsNonFinitePrediction(t *testing.T) {
	s, err := New(Options{
		Schedule:       testSchedule(t),
		Denoiser:       NewGuidedDenoiser(nanDenoiser{}, 15, 8),
		InferenceSteps: 5,
		LatentChannels: 4,
		LatentSize:     8,
	})
	if err != nil {
		t.Fatalf("new sampler: %v", err)
	}
	_, err = s.Run(context.Background(), make([]float32, 8), rand.New(rand.NewSource(1)))
	if !errors.Is(err, services.ErrNumericInstability) {
		t.Fatalf("expected ErrNumericInstability, got %v", err)
	}
}

type nanDenoiser struct{}

func (nanDenoiser) Predict(_ context.Context, latent *tensor.Tensor, _ int, _ []float32) (*tensor.Tensor, error) {
	out := tensor.New(latent.Shape...)
	out.Data[0] = float32(math.NaN())
	return out, nil
}

func (nanDenoiser) Close() error { return nil }
