package recon

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"vouch/internal/models"
	"vouch/internal/models/modeltest"
	"vouch/internal/services"
	"vouch/internal/tensor"
)

func TestPSNRValues(t *testing.T) {
	if !math.IsInf(PSNR(0), 1) {
		t.Fatal("zero MSE should give infinite PSNR")
	}
	// MSE 0.01 over unit range: 20*log10(1/0.1) = 20 dB.
	if got := PSNR(0.01); math.Abs(got-20) > 1e-9 {
		t.Fatalf("PSNR(0.01) = %v, want 20", got)
	}
	if got := PSNR(1); math.Abs(got) > 1e-9 {
		t.Fatalf("PSNR(1) = %v, want 0", got)
	}
	// PSNR decreases as MSE grows.
	if PSNR(0.001) <= PSNR(0.01) {
		t.Fatal("PSNR should decrease with MSE")
	}
}

func TestCorrelation(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	if got := Correlation(a, a); math.Abs(got-1) > 1e-9 {
		t.Fatalf("self correlation = %v, want 1", got)
	}
	inverted := []float32{4, 3, 2, 1}
	if got := Correlation(a, inverted); math.Abs(got+1) > 1e-9 {
		t.Fatalf("inverted correlation = %v, want -1", got)
	}
	constant := []float32{5, 5, 5, 5}
	if got := Correlation(a, constant); !math.IsNaN(got) {
		t.Fatalf("constant correlation = %v, want NaN", got)
	}
}

func TestBands(t *testing.T) {
	psnrCases := map[float64]string{
		30: BandExcellent, 25: BandExcellent, 22: BandGood, 17: BandFair, 10: BandPoor,
	}
	for value, want := range psnrCases {
		if got := PSNRBand(value); got != want {
			t.Fatalf("PSNRBand(%v) = %q, want %q", value, got, want)
		}
	}
	corrCases := map[float64]string{
		0.95: BandExcellent, 0.85: BandGood, 0.75: BandFair, 0.5: BandPoor,
	}
	for value, want := range corrCases {
		if got := CorrelationBand(value); got != want {
			t.Fatalf("CorrelationBand(%v) = %q, want %q", value, got, want)
		}
	}
}

func TestMSEIdenticalTensors(t *testing.T) {
	a := tensor.New(1, 3, 4, 4)
	for i := range a.Data {
		a.Data[i] = 0.3
	}
	mse, err := MSE(a, a.Clone())
	if err != nil {
		t.Fatalf("mse: %v", err)
	}
	if mse != 0 {
		t.Fatalf("mse = %v, want 0", mse)
	}
	if _, err := MSE(a, tensor.New(1, 3, 2, 2)); err == nil {
		t.Fatal("expected length mismatch error")
	}
}

func writeGrayPNG(t *testing.T, dir, name string, size int, gray uint8) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, color.RGBA{R: gray, G: gray, B: gray, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestAssessProducesReport(t *testing.T) {
	dir := t.TempDir()
	// The fake autoencoder works on 64x64 images (latent size 8).
	paths := []string{
		writeGrayPNG(t, dir, "a.png", 64, 64),
		writeGrayPNG(t, dir, "b.png", 64, 192),
	}

	ae := &modeltest.Autoencoder{Channels: 4, Size: 8}
	assessor := NewAssessor(ae, 4, nil)

	report, err := assessor.Assess(context.Background(), paths, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if report.Samples != 2 {
		t.Fatalf("samples = %d, want 2", report.Samples)
	}
	if report.MSE <= 0 {
		t.Fatalf("mse = %v, want positive for lossy round trip", report.MSE)
	}
	if got, want := report.PSNR, PSNR(report.MSE); math.Abs(got-want) > 1e-9 {
		t.Fatalf("psnr = %v, want %v from the aggregate mse", got, want)
	}
	if report.PSNRBand == "" || report.CorrelationBand == "" {
		t.Fatalf("bands not set: %+v", report)
	}
	if report.Correlation < -1 || report.Correlation > 1 {
		t.Fatalf("correlation = %v out of range", report.Correlation)
	}
}

// flatAutoencoder reconstructs every image as a constant-valued frame,
// giving tests exact control over the per-image error.
type flatAutoencoder struct {
	value float32
}

func (f *flatAutoencoder) Encode(_ context.Context, _ *tensor.Tensor) (*models.Posterior, error) {
	return &models.Posterior{
		Mean:   make([]float32, 4),
		LogVar: []float32{-40, -40, -40, -40},
		Shape:  []int{1, 1, 2, 2},
	}, nil
}

func (f *flatAutoencoder) Decode(_ context.Context, _ *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.New(1, 3, 64, 64)
	for i := range out.Data {
		out.Data[i] = f.value
	}
	return out, nil
}

func (f *flatAutoencoder) ScalingFactor() float32 { return 0.18215 }
func (f *flatAutoencoder) Close() error           { return nil }

// pixel maps an 8-bit gray level the way image loading does.
func pixel(v uint8) float64 {
	return float64(float32(uint32(v)*257) / 65535)
}

func TestAssessAggregatesErrorBeforeDecibels(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeGrayPNG(t, dir, "near.png", 64, 103),
		writeGrayPNG(t, dir, "far.png", 64, 151),
	}

	base := pixel(100)
	ae := &flatAutoencoder{value: float32(base)}
	report, err := NewAssessor(ae, 4, nil).Assess(context.Background(), paths, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("assess: %v", err)
	}

	nearMSE := (pixel(103) - base) * (pixel(103) - base)
	farMSE := (pixel(151) - base) * (pixel(151) - base)
	wantMSE := (nearMSE + farMSE) / 2
	if math.Abs(report.MSE-wantMSE) > 1e-6 {
		t.Fatalf("mse = %v, want mean of per-image errors %v", report.MSE, wantMSE)
	}
	if got, want := report.PSNR, PSNR(wantMSE); math.Abs(got-want) > 1e-6 {
		t.Fatalf("psnr = %v, want %v", got, want)
	}
	// The aggregate error lands in a worse band than the average of the
	// per-image decibel figures would claim.
	if report.PSNRBand != BandFair {
		t.Fatalf("band = %q, want %q", report.PSNRBand, BandFair)
	}
	perImageMean := (PSNR(nearMSE) + PSNR(farMSE)) / 2
	if PSNRBand(perImageMean) != BandExcellent {
		t.Fatalf("per-image mean %v no longer spans a band boundary; adjust the gray levels", perImageMean)
	}
}

func TestAssessPerfectSampleKeepsAggregateFinite(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeGrayPNG(t, dir, "exact.png", 64, 100),
		writeGrayPNG(t, dir, "far.png", 64, 151),
	}

	base := pixel(100)
	ae := &flatAutoencoder{value: float32(base)}
	report, err := NewAssessor(ae, 4, nil).Assess(context.Background(), paths, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("assess: %v", err)
	}

	if math.IsInf(report.PSNR, 1) {
		t.Fatal("one perfect reconstruction must not drive the aggregate PSNR to infinity")
	}
	farMSE := (pixel(151) - base) * (pixel(151) - base)
	if wantMSE := farMSE / 2; math.Abs(report.MSE-wantMSE) > 1e-6 {
		t.Fatalf("mse = %v, want %v", report.MSE, wantMSE)
	}
}

func TestAssessEmptyInput(t *testing.T) {
	ae := &modeltest.Autoencoder{Channels: 4, Size: 8}
	assessor := NewAssessor(ae, 4, nil)
	_, err := assessor.Assess(context.Background(), nil, rand.New(rand.NewSource(1)))
	if !errors.Is(err, services.ErrMissingData) {
		t.Fatalf("expected ErrMissingData, got %v", err)
	}
}

func TestAnalyzeLatentsStats(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		paths = append(paths, writeGrayPNG(t, dir, name, 64, 128))
	}

	ae := &modeltest.Autoencoder{Channels: 4, Size: 8}
	report, err := AnalyzeLatents(context.Background(), ae, paths, 2, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Samples != 2 {
		t.Fatalf("samples = %d, want 2 after cap", report.Samples)
	}
	if len(report.Channels) != 4 {
		t.Fatalf("channels = %d, want 4", len(report.Channels))
	}
	if report.Min > report.Max {
		t.Fatalf("min %v above max %v", report.Min, report.Max)
	}
}
