// Package schedule implements the DDPM noise schedule used by the
// guided sampler: beta ramp construction, inference timestep selection,
// and the reverse-diffusion posterior step.
package schedule

import (
	"fmt"
	"math"
	"math/rand"

	"vouch/internal/services"
	"vouch/internal/tensor"
)

// Schedule families. scaled_linear ramps linearly in sqrt-beta space.
const (
	FamilyScaledLinear = "scaled_linear"
	FamilyLinear       = "linear"
)

// varianceFloor keeps the posterior variance positive at the first
// training timestep where it collapses to zero.
const varianceFloor = 1e-20

// Params configures schedule construction.
type Params struct {
	TrainTimesteps int
	BetaStart      float64
	BetaEnd        float64
	Family         string
}

// Schedule holds the precomputed alpha products for a beta ramp.
type Schedule struct {
	trainTimesteps int
	betas          []float64
	alphasCumprod  []float64
}

// New builds a schedule from params, validating them first.
func New(params Params) (*Schedule, error) {
	if params.TrainTimesteps <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "new",
			fmt.Sprintf("train timesteps must be positive, got %d", params.TrainTimesteps), nil)
	}
	if params.BetaStart <= 0 || params.BetaEnd <= params.BetaStart || params.BetaEnd >= 1 {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "new",
			fmt.Sprintf("beta range [%g, %g] is invalid", params.BetaStart, params.BetaEnd), nil)
	}

	betas := make([]float64, params.TrainTimesteps)
	switch params.Family {
	case FamilyScaledLinear, "":
		start := math.Sqrt(params.BetaStart)
		end := math.Sqrt(params.BetaEnd)
		for i := range betas {
			v := linspace(start, end, params.TrainTimesteps, i)
			betas[i] = v * v
		}
	case FamilyLinear:
		for i := range betas {
			betas[i] = linspace(params.BetaStart, params.BetaEnd, params.TrainTimesteps, i)
		}
	default:
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "new",
			fmt.Sprintf("unknown schedule family %q", params.Family), nil)
	}

	alphasCumprod := make([]float64, params.TrainTimesteps)
	product := 1.0
	for i, beta := range betas {
		product *= 1 - beta
		alphasCumprod[i] = product
	}

	return &Schedule{
		trainTimesteps: params.TrainTimesteps,
		betas:          betas,
		alphasCumprod:  alphasCumprod,
	}, nil
}

// TrainTimesteps returns the length of the training schedule.
func (s *Schedule) TrainTimesteps() int { return s.trainTimesteps }

// InitialNoiseSigma is the scale applied to the starting latent noise.
func (s *Schedule) InitialNoiseSigma() float64 { return 1.0 }

// AlphaCumprod returns the cumulative alpha product at timestep t.
func (s *Schedule) AlphaCumprod(t int) (float64, error) {
	if t < 0 || t >= s.trainTimesteps {
		return 0, fmt.Errorf("schedule: timestep %d outside [0, %d)", t, s.trainTimesteps)
	}
	return s.alphasCumprod[t], nil
}

// Timesteps selects k evenly spaced inference timesteps in strictly
// decreasing order, ending at timestep 0.
func (s *Schedule) Timesteps(k int) ([]int, error) {
	if k <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "timesteps",
			fmt.Sprintf("inference step count must be positive, got %d", k), nil)
	}
	if k > s.trainTimesteps {
		return nil, services.Wrap(services.ErrConfiguration, "schedule", "timesteps",
			fmt.Sprintf("inference steps %d exceed training timesteps %d", k, s.trainTimesteps), nil)
	}
	stepRatio := s.trainTimesteps / k
	timesteps := make([]int, k)
	for i := range timesteps {
		timesteps[i] = (k - 1 - i) * stepRatio
	}
	return timesteps, nil
}

// Step applies one reverse-diffusion update: it reconstructs the predicted
// clean latent from the noise prediction, forms the posterior mean, and
// adds fixed-small variance noise on every step except the final one.
// tPrev must be the next timestep in the descending sequence, or a
// negative value on the final step.
func (s *Schedule) Step(noisePred, latent *tensor.Tensor, t, tPrev int, rng *rand.Rand) (*tensor.Tensor, error) {
	if t < 0 || t >= s.trainTimesteps {
		return nil, fmt.Errorf("schedule: step timestep %d outside [0, %d)", t, s.trainTimesteps)
	}
	if tPrev >= t {
		return nil, fmt.Errorf("schedule: previous timestep %d must be below %d", tPrev, t)
	}
	if len(noisePred.Data) != len(latent.Data) {
		return nil, fmt.Errorf("schedule: noise prediction length %d does not match latent %d",
			len(noisePred.Data), len(latent.Data))
	}

	alphaProdT := s.alphasCumprod[t]
	alphaProdPrev := 1.0
	if tPrev >= 0 {
		alphaProdPrev = s.alphasCumprod[tPrev]
	}
	betaProdT := 1 - alphaProdT
	currentAlpha := alphaProdT / alphaProdPrev
	currentBeta := 1 - currentAlpha

	sqrtAlphaProdT := math.Sqrt(alphaProdT)
	sqrtBetaProdT := math.Sqrt(betaProdT)
	originalCoeff := math.Sqrt(alphaProdPrev) * currentBeta / betaProdT
	currentCoeff := math.Sqrt(currentAlpha) * (1 - alphaProdPrev) / betaProdT

	prev := tensor.New(latent.Shape...)
	for i := range latent.Data {
		x := float64(latent.Data[i])
		eps := float64(noisePred.Data[i])
		original := (x - sqrtBetaProdT*eps) / sqrtAlphaProdT
		prev.Data[i] = float32(originalCoeff*original + currentCoeff*x)
	}

	if tPrev >= 0 {
		variance := (1 - alphaProdPrev) / (1 - alphaProdT) * currentBeta
		if variance < varianceFloor {
			variance = varianceFloor
		}
		sigma := float32(math.Sqrt(variance))
		noise := tensor.Noise(rng, latent.Shape...)
		for i := range prev.Data {
			prev.Data[i] += sigma * noise.Data[i]
		}
	}

	return prev, nil
}

func linspace(start, end float64, n, i int) float64 {
	if n == 1 {
		return start
	}
	return start + (end-start)*float64(i)/float64(n-1)
}
