package recon

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"vouch/internal/imaging"
	"vouch/internal/models"
	"vouch/internal/services"
)

// ChannelStats summarizes one latent channel across a sample set.
type ChannelStats struct {
	Channel int     `json:"channel"`
	Mean    float64 `json:"mean"`
	Std     float64 `json:"std"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// LatentReport summarizes encoded latents over a sample set, overall
// and per channel.
type LatentReport struct {
	Samples  int            `json:"samples"`
	Mean     float64        `json:"mean"`
	Std      float64        `json:"std"`
	Min      float64        `json:"min"`
	Max      float64        `json:"max"`
	Channels []ChannelStats `json:"channels"`
}

// AnalyzeLatents encodes up to maxSamples images and reports latent
// statistics. Non-finite latent values abort the analysis.
func AnalyzeLatents(ctx context.Context, autoencoder models.Autoencoder, paths []string, maxSamples int, rng *rand.Rand) (*LatentReport, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "recon", "latents", "no images to analyze", nil)
	}
	if maxSamples > 0 && len(paths) > maxSamples {
		paths = paths[:maxSamples]
	}

	var channels int
	var perChannel []accumulator
	overall := newAccumulator()

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		image, err := imaging.LoadImage(path)
		if err != nil {
			return nil, services.Wrap(services.ErrMissingData, "recon", "latents", "load "+path, err)
		}
		posterior, err := autoencoder.Encode(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("recon: encode %s: %w", path, err)
		}
		latent := posterior.Sample(rng)

		if len(latent.Shape) != 4 {
			return nil, fmt.Errorf("recon: expected 4D latent, got shape %v", latent.Shape)
		}
		if channels == 0 {
			channels = latent.Shape[1]
			perChannel = make([]accumulator, channels)
			for c := range perChannel {
				perChannel[c] = newAccumulator()
			}
		}

		plane := latent.Shape[2] * latent.Shape[3]
		for i, v := range latent.Data {
			f := float64(v)
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, services.Wrap(services.ErrNumericInstability, "recon", "latents",
					fmt.Sprintf("non-finite latent value in %s at element %d", path, i), nil)
			}
			overall.add(f)
			perChannel[i/plane%channels].add(f)
		}
	}

	report := &LatentReport{
		Samples:  len(paths),
		Mean:     overall.mean(),
		Std:      overall.std(),
		Min:      overall.min,
		Max:      overall.max,
		Channels: make([]ChannelStats, channels),
	}
	for c := range perChannel {
		report.Channels[c] = ChannelStats{
			Channel: c,
			Mean:    perChannel[c].mean(),
			Std:     perChannel[c].std(),
			Min:     perChannel[c].min,
			Max:     perChannel[c].max,
		}
	}
	return report, nil
}

type accumulator struct {
	count int
	sum   float64
	sumSq float64
	min   float64
	max   float64
}

func newAccumulator() accumulator {
	return accumulator{min: math.Inf(1), max: math.Inf(-1)}
}

func (a *accumulator) add(v float64) {
	a.count++
	a.sum += v
	a.sumSq += v * v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
}

func (a *accumulator) mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a *accumulator) std() float64 {
	if a.count == 0 {
		return 0
	}
	mean := a.mean()
	variance := a.sumSq/float64(a.count) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
