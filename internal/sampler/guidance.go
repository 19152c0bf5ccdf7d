package sampler

import (
	"context"

	"vouch/internal/models"
	"vouch/internal/tensor"
)

// GuidedDenoiser applies classifier-free guidance around a denoiser:
// each prediction combines an unconditional pass (zero embedding) and a
// conditional pass as uncond + scale * (cond - uncond). Both passes run
// on every call so the step cost is independent of the scale.
type GuidedDenoiser struct {
	denoiser models.Denoiser
	scale    float32
	uncond   []float32
}

// NewGuidedDenoiser wraps a denoiser with a guidance scale. The
// unconditional embedding is the zero vector of the given dimension.
func NewGuidedDenoiser(denoiser models.Denoiser, scale float32, embeddingDim int) *GuidedDenoiser {
	return &GuidedDenoiser{
		denoiser: denoiser,
		scale:    scale,
		uncond:   make([]float32, embeddingDim),
	}
}

// Predict returns the guided noise prediction for one timestep.
func (g *GuidedDenoiser) Predict(ctx context.Context, latent *tensor.Tensor, timestep int, conditioning []float32) (*tensor.Tensor, error) {
	uncond, err := g.denoiser.Predict(ctx, latent, timestep, g.uncond)
	if err != nil {
		return nil, err
	}
	cond, err := g.denoiser.Predict(ctx, latent, timestep, conditioning)
	if err != nil {
		return nil, err
	}

	out := tensor.New(latent.Shape...)
	for i := range out.Data {
		out.Data[i] = uncond.Data[i] + g.scale*(cond.Data[i]-uncond.Data[i])
	}
	return out, nil
}
