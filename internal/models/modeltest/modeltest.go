// Package modeltest provides in-memory fakes for the inference
// interfaces so pipeline packages can be tested without model files or
// a runtime library.
package modeltest

import (
	"context"
	"math"
	"sync"

	"vouch/internal/models"
	"vouch/internal/tensor"
)

// Denoiser is a deterministic fake whose prediction depends on the
// latent, the timestep, and the conditioning vector, so guidance math
// and step counts are observable in tests.
type Denoiser struct {
	Dim         int
	LatentShape []int

	mu    sync.Mutex
	calls int
}

// Predict returns a pseudo-prediction derived from its inputs.
func (d *Denoiser) Predict(_ context.Context, latent *tensor.Tensor, timestep int, conditioning []float32) (*tensor.Tensor, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var condSum float32
	for _, v := range conditioning {
		condSum += v
	}
	out := tensor.New(latent.Shape...)
	scale := float32(0.01 * float64(timestep+1))
	for i := range out.Data {
		out.Data[i] = latent.Data[i]*0.1 + condSum*0.001 + scale*float32(math.Sin(float64(i)))
	}
	return out, nil
}

// Calls reports how many predictions ran.
func (d *Denoiser) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Close is a no-op.
func (d *Denoiser) Close() error { return nil }

// Autoencoder round-trips images through a trivially invertible latent:
// Encode averages pixel blocks into the posterior mean, Decode expands
// each latent value back to its block.
type Autoencoder struct {
	Channels int
	Size     int
	Factor   float32
}

func (a *Autoencoder) latentShape() []int {
	return []int{1, a.Channels, a.Size, a.Size}
}

// Encode produces a posterior whose mean is derived from the image data
// and whose variance is zero, so Sample is deterministic.
func (a *Autoencoder) Encode(_ context.Context, image *tensor.Tensor) (*models.Posterior, error) {
	numel := tensor.Numel(a.latentShape())
	mean := make([]float32, numel)
	logVar := make([]float32, numel)
	for i := range mean {
		mean[i] = image.Data[i%len(image.Data)] * 0.5
		logVar[i] = -40 // sigma effectively zero
	}
	return &models.Posterior{Mean: mean, LogVar: logVar, Shape: a.latentShape()}, nil
}

// Decode expands latents to an image tensor deterministically.
func (a *Autoencoder) Decode(_ context.Context, latent *tensor.Tensor) (*tensor.Tensor, error) {
	imageSize := a.Size * 8
	out := tensor.New(1, 3, imageSize, imageSize)
	for i := range out.Data {
		v := latent.Data[i%len(latent.Data)]
		out.Data[i] = 0.5 + 0.1*v
	}
	return out, nil
}

// ScalingFactor returns the configured latent scaling factor.
func (a *Autoencoder) ScalingFactor() float32 {
	if a.Factor == 0 {
		return 0.18215
	}
	return a.Factor
}

// Close is a no-op.
func (a *Autoencoder) Close() error { return nil }

// Embedder returns a distinct deterministic vector per identity index.
type Embedder struct {
	Identities int
	Dimension  int
}

// Embed returns the conditioning vector for an index.
func (e *Embedder) Embed(index int) ([]float32, error) {
	out := make([]float32, e.Dimension)
	for i := range out {
		out[i] = float32(index+1) * 0.01 * float32(i%7+1)
	}
	return out, nil
}

// Dim returns the embedding dimension.
func (e *Embedder) Dim() int { return e.Dimension }

// Count returns the number of identities.
func (e *Embedder) Count() int { return e.Identities }
