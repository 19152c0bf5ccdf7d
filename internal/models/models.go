// Package models defines the inference interfaces the pipeline depends on
// and their ONNX Runtime and safetensors backed implementations.
package models

import (
	"context"
	"math"
	"math/rand"

	"vouch/internal/tensor"
)

// Denoiser predicts the noise present in a latent at a given timestep,
// conditioned on an identity embedding.
type Denoiser interface {
	Predict(ctx context.Context, latent *tensor.Tensor, timestep int, conditioning []float32) (*tensor.Tensor, error)
	Close() error
}

// Autoencoder maps between image space and latent space.
type Autoencoder interface {
	Encode(ctx context.Context, image *tensor.Tensor) (*Posterior, error)
	Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error)
	ScalingFactor() float32
	Close() error
}

// Embedder looks up the conditioning vector for a dense identity index.
type Embedder interface {
	Embed(index int) ([]float32, error)
	Dim() int
	Count() int
}

// Posterior is the diagonal gaussian an encoder produces over latents.
type Posterior struct {
	Mean   []float32
	LogVar []float32
	Shape  []int
}

// Sample draws a latent from the posterior using the supplied source.
func (p *Posterior) Sample(rng *rand.Rand) *tensor.Tensor {
	out := tensor.New(p.Shape...)
	noise := tensor.Noise(rng, p.Shape...)
	for i := range out.Data {
		sigma := float32(math.Exp(0.5 * float64(p.LogVar[i])))
		out.Data[i] = p.Mean[i] + sigma*noise.Data[i]
	}
	return out
}

// Mode returns the posterior mean as a latent, used for deterministic
// round trips.
func (p *Posterior) Mode() *tensor.Tensor {
	out := tensor.New(p.Shape...)
	copy(out.Data, p.Mean)
	return out
}
