// Package sampler runs the reverse-diffusion loop that turns seeded
// noise into identity-conditioned latents.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"vouch/internal/logging"
	"vouch/internal/schedule"
	"vouch/internal/services"
	"vouch/internal/tensor"
)

// State tracks where a sampling loop is in its lifecycle.
type State int

const (
	StateInitialized State = iota
	StateStepping
	StateComplete
)

// Sampler drives the denoising loop for one latent at a time.
// Sampler is not safe for concurrent use; workers create their own.
type Sampler struct {
	schedule    *schedule.Schedule
	denoiser    *GuidedDenoiser
	steps       int
	latentShape []int
	logger      *slog.Logger
	state       State
}

// Options configures sampler construction.
type Options struct {
	Schedule       *schedule.Schedule
	Denoiser       *GuidedDenoiser
	InferenceSteps int
	LatentChannels int
	LatentSize     int
	Logger         *slog.Logger
}

// New validates options and builds a sampler.
func New(opts Options) (*Sampler, error) {
	if opts.Schedule == nil || opts.Denoiser == nil {
		return nil, services.Wrap(services.ErrConfiguration, "sampler", "new", "schedule and denoiser are required", nil)
	}
	if opts.InferenceSteps <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "sampler", "new",
			fmt.Sprintf("inference steps must be positive, got %d", opts.InferenceSteps), nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sampler{
		schedule:    opts.Schedule,
		denoiser:    opts.Denoiser,
		steps:       opts.InferenceSteps,
		latentShape: []int{1, opts.LatentChannels, opts.LatentSize, opts.LatentSize},
		logger:      logging.NewComponentLogger(logger, "sampler"),
	}, nil
}

// Run samples one latent conditioned on the given embedding, starting
// from seeded noise. The context is checked before every denoiser call.
func (s *Sampler) Run(ctx context.Context, conditioning []float32, rng *rand.Rand) (*tensor.Tensor, error) {
	timesteps, err := s.schedule.Timesteps(s.steps)
	if err != nil {
		return nil, err
	}

	latent := tensor.Noise(rng, s.latentShape...)
	if sigma := s.schedule.InitialNoiseSigma(); sigma != 1.0 {
		latent.Scale(float32(sigma))
	}

	s.state = StateInitialized
	progress := logging.NewProgressSampler(len(timesteps), 10)

	for i, t := range timesteps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.state = StateStepping

		noisePred, err := s.denoiser.Predict(ctx, latent, t, conditioning)
		if err != nil {
			return nil, fmt.Errorf("sampler: predict at step %d (t=%d): %w", i, t, err)
		}
		if err := tensor.CheckFinite(noisePred, fmt.Sprintf("noise prediction at step %d", i)); err != nil {
			return nil, err
		}

		tPrev := -1
		if i+1 < len(timesteps) {
			tPrev = timesteps[i+1]
		}
		latent, err = s.schedule.Step(noisePred, latent, t, tPrev, rng)
		if err != nil {
			return nil, fmt.Errorf("sampler: scheduler step %d: %w", i, err)
		}
		if err := tensor.CheckFinite(latent, fmt.Sprintf("latent at step %d", i)); err != nil {
			return nil, err
		}

		if progress.ShouldLog(i) {
			s.logger.Debug("denoising progress",
				logging.Int("step", i+1),
				logging.Int("total_steps", len(timesteps)),
				logging.Int("timestep", t),
				logging.Float64("percent", progress.Percent(i)))
		}
	}

	s.state = StateComplete
	return latent, nil
}

// State reports the lifecycle position of the most recent Run.
func (s *Sampler) State() State { return s.state }

// LatentShape returns the shape of latents this sampler produces.
func (s *Sampler) LatentShape() []int {
	out := make([]int, len(s.latentShape))
	copy(out, s.latentShape)
	return out
}
