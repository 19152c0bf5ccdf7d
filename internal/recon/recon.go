// Package recon assesses autoencoder reconstruction quality on real
// reference images and summarizes latent-space statistics, both used as
// advisory preflight signals before a validation run.
package recon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"vouch/internal/imaging"
	"vouch/internal/logging"
	"vouch/internal/models"
	"vouch/internal/services"
	"vouch/internal/tensor"
)

// Quality bands for PSNR (dB) and pixel correlation.
const (
	BandExcellent = "excellent"
	BandGood      = "good"
	BandFair      = "fair"
	BandPoor      = "poor"
)

// Report captures the reconstruction assessment over a sample set.
// PSNR derives from the aggregate MSE over all samples, and correlation
// is one Pearson over the pooled pixel arrays, so a single perfect or
// degenerate image cannot skew either figure.
type Report struct {
	Samples         int     `json:"samples"`
	MSE             float64 `json:"mse"`
	PSNR            float64 `json:"psnr"`
	PSNRBand        string  `json:"psnr_band"`
	Correlation     float64 `json:"correlation"`
	CorrelationBand string  `json:"correlation_band"`
}

// Assessor round-trips images through the autoencoder and measures how
// much the reconstruction degrades them.
type Assessor struct {
	autoencoder        models.Autoencoder
	correlationSamples int
	logger             *slog.Logger
}

// NewAssessor builds an assessor. correlationSamples bounds how many
// images contribute to the correlation figure.
func NewAssessor(autoencoder models.Autoencoder, correlationSamples int, logger *slog.Logger) *Assessor {
	if correlationSamples <= 0 {
		correlationSamples = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Assessor{
		autoencoder:        autoencoder,
		correlationSamples: correlationSamples,
		logger:             logging.NewComponentLogger(logger, "recon"),
	}
}

// Assess reconstructs each image, aggregates the squared error across
// the whole set, and reports MSE, PSNR of that MSE, and the pooled
// pixel correlation. At least one image is required.
func (a *Assessor) Assess(ctx context.Context, paths []string, rng *rand.Rand) (*Report, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "recon", "assess", "no images to assess", nil)
	}

	report := &Report{Samples: len(paths)}
	var mseSum float64
	var pooledOriginal, pooledRecon []float32

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		original, err := imaging.LoadImage(path)
		if err != nil {
			return nil, services.Wrap(services.ErrMissingData, "recon", "assess", "load "+path, err)
		}
		reconstructed, err := a.roundTrip(ctx, original, rng)
		if err != nil {
			return nil, err
		}

		mse, err := MSE(original, reconstructed)
		if err != nil {
			return nil, err
		}
		mseSum += mse

		if i < a.correlationSamples {
			pooledOriginal = append(pooledOriginal, original.Data...)
			pooledRecon = append(pooledRecon, reconstructed.Data...)
		}

		a.logger.Debug("reconstruction sample",
			logging.String("image", path),
			logging.Float64("mse", mse))
	}

	report.MSE = mseSum / float64(len(paths))
	report.PSNR = PSNR(report.MSE)
	report.PSNRBand = PSNRBand(report.PSNR)

	if corr := Correlation(pooledOriginal, pooledRecon); !math.IsNaN(corr) {
		report.Correlation = corr
	}
	report.CorrelationBand = CorrelationBand(report.Correlation)
	return report, nil
}

func (a *Assessor) roundTrip(ctx context.Context, image *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	posterior, err := a.autoencoder.Encode(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("recon: encode: %w", err)
	}
	latent := posterior.Sample(rng)
	if err := tensor.CheckFinite(latent, "sampled latent"); err != nil {
		return nil, err
	}

	reconstructed, err := a.autoencoder.Decode(ctx, latent)
	if err != nil {
		return nil, fmt.Errorf("recon: decode: %w", err)
	}
	if err := tensor.CheckFinite(reconstructed, "reconstruction"); err != nil {
		return nil, err
	}
	reconstructed.Clamp(0, 1)
	return reconstructed, nil
}

// MSE computes the mean squared error between two equal-size tensors.
func MSE(a, b *tensor.Tensor) (float64, error) {
	if len(a.Data) != len(b.Data) {
		return 0, fmt.Errorf("recon: mse length mismatch %d vs %d", len(a.Data), len(b.Data))
	}
	var sum float64
	for i := range a.Data {
		diff := float64(a.Data[i]) - float64(b.Data[i])
		sum += diff * diff
	}
	return sum / float64(len(a.Data)), nil
}

// PSNR converts an MSE over unit-range data to decibels. Zero error
// maps to positive infinity.
func PSNR(mse float64) float64 {
	if mse <= 0 {
		return math.Inf(1)
	}
	return 20 * math.Log10(1/math.Sqrt(mse))
}

// Correlation returns the Pearson correlation between two equal-length
// samples, or NaN when either side has no variance.
func Correlation(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	n := float64(len(a))
	var sumA, sumB float64
	for i := range a {
		sumA += float64(a[i])
		sumB += float64(b[i])
	}
	meanA := sumA / n
	meanB := sumB / n

	var cov, varA, varB float64
	for i := range a {
		da := float64(a[i]) - meanA
		db := float64(b[i]) - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

// PSNRBand maps a PSNR in dB to a quality band.
func PSNRBand(psnr float64) string {
	switch {
	case psnr >= 25:
		return BandExcellent
	case psnr >= 20:
		return BandGood
	case psnr >= 15:
		return BandFair
	default:
		return BandPoor
	}
}

// CorrelationBand maps a pixel correlation to a quality band.
func CorrelationBand(corr float64) string {
	switch {
	case corr >= 0.9:
		return BandExcellent
	case corr >= 0.8:
		return BandGood
	case corr >= 0.7:
		return BandFair
	default:
		return BandPoor
	}
}
