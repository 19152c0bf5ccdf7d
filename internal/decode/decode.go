// Package decode turns sampled latents into PNG files on disk.
package decode

import (
	"context"
	"fmt"
	"path/filepath"

	"vouch/internal/imaging"
	"vouch/internal/models"
	"vouch/internal/tensor"
)

// Decoder converts latents to images via the autoencoder, undoing the
// latent scaling factor before the decode pass and clamping the output
// to the unit range.
type Decoder struct {
	autoencoder models.Autoencoder
}

// New builds a decoder around an autoencoder.
func New(autoencoder models.Autoencoder) *Decoder {
	return &Decoder{autoencoder: autoencoder}
}

// Decode maps a latent to an image tensor in [0, 1].
func (d *Decoder) Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error) {
	scaled := latent.Clone().Scale(1 / d.autoencoder.ScalingFactor())
	image, err := d.autoencoder.Decode(ctx, scaled)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := tensor.CheckFinite(image, "decoded image"); err != nil {
		return nil, err
	}
	image.Clamp(0, 1)
	return image, nil
}

// DecodeToFile decodes a latent and writes it as a PNG.
func (d *Decoder) DecodeToFile(ctx context.Context, latent *tensor.Tensor, path string) error {
	image, err := d.Decode(ctx, latent)
	if err != nil {
		return err
	}
	return imaging.SavePNG(image, path)
}

// FileName formats the on-disk name for a generated image. sampleIndex
// is zero-based; files are numbered from 1.
func FileName(identityID, sampleIndex int) string {
	return fmt.Sprintf("identity_%d_generated_%02d.png", identityID, sampleIndex+1)
}

// FilePath joins a generated-image directory with the standard name.
func FilePath(dir string, identityID, sampleIndex int) string {
	return filepath.Join(dir, FileName(identityID, sampleIndex))
}
