package models

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"vouch/internal/config"
	"vouch/internal/services"
	"vouch/internal/tensor"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXDenoiser runs a conditional UNet exported to ONNX. The graph takes
// sample, timestep, and conditioning inputs and returns predicted noise.
type ONNXDenoiser struct {
	session       *ort.DynamicAdvancedSession
	latentShape   []int
	embeddingDim  int
	timestepInput bool
}

// OpenDenoiser loads the denoiser model described by the config.
func OpenDenoiser(cfg *config.Config) (*ONNXDenoiser, error) {
	if err := initRuntime(cfg.Models.RuntimeLibrary); err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "denoiser", "initialize runtime", err)
	}

	path := cfg.Models.DenoiserPath
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "denoiser", "inspect "+path, err)
	}
	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}

	session, err := ort.NewDynamicAdvancedSession(path, inNames, outNames, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "denoiser", "open session for "+path, err)
	}

	size := cfg.Models.LatentSize
	return &ONNXDenoiser{
		session:      session,
		latentShape:  []int{1, cfg.Models.LatentChannels, size, size},
		embeddingDim: cfg.Models.EmbeddingDim,
	}, nil
}

// Predict runs one forward pass of the denoiser.
func (d *ONNXDenoiser) Predict(ctx context.Context, latent *tensor.Tensor, timestep int, conditioning []float32) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(conditioning) != d.embeddingDim {
		return nil, fmt.Errorf("models: conditioning dim %d, want %d", len(conditioning), d.embeddingDim)
	}
	if len(latent.Data) != tensor.Numel(d.latentShape) {
		return nil, fmt.Errorf("models: latent length %d does not match shape %v", len(latent.Data), d.latentShape)
	}

	sampleTensor, err := ort.NewTensor(shapeOf(d.latentShape), latent.Data)
	if err != nil {
		return nil, fmt.Errorf("models: sample tensor: %w", err)
	}
	defer sampleTensor.Destroy()

	tsTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(timestep)})
	if err != nil {
		return nil, fmt.Errorf("models: timestep tensor: %w", err)
	}
	defer tsTensor.Destroy()

	condTensor, err := ort.NewTensor(ort.NewShape(1, int64(d.embeddingDim)), conditioning)
	if err != nil {
		return nil, fmt.Errorf("models: conditioning tensor: %w", err)
	}
	defer condTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := d.session.Run([]ort.Value{sampleTensor, tsTensor, condTensor}, outputs); err != nil {
		return nil, fmt.Errorf("models: denoiser run: %w", err)
	}
	defer destroyAll(outputs)

	data, err := extractFloat32(outputs[0])
	if err != nil {
		return nil, err
	}
	return tensor.From(data, d.latentShape...)
}

// Close releases the underlying session.
func (d *ONNXDenoiser) Close() error {
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	return nil
}

// ONNXAutoencoder wraps separate encoder and decoder graphs plus the
// scaling factor read from the model's config.json when present.
type ONNXAutoencoder struct {
	encoder       *ort.DynamicAdvancedSession
	decoder       *ort.DynamicAdvancedSession
	latentShape   []int
	imageSize     int
	scalingFactor float32
}

type autoencoderConfig struct {
	ScalingFactor float32 `json:"scaling_factor"`
}

// OpenAutoencoder loads encoder and decoder graphs from the configured
// autoencoder directory (encoder.onnx and decoder.onnx).
func OpenAutoencoder(cfg *config.Config) (*ONNXAutoencoder, error) {
	if err := initRuntime(cfg.Models.RuntimeLibrary); err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "autoencoder", "initialize runtime", err)
	}

	dir := cfg.Models.AutoencoderPath
	encoder, err := openSession(filepath.Join(dir, "encoder.onnx"))
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "models", "autoencoder", "open encoder", err)
	}
	decoder, err := openSession(filepath.Join(dir, "decoder.onnx"))
	if err != nil {
		encoder.Destroy()
		return nil, services.Wrap(services.ErrModelLoad, "models", "autoencoder", "open decoder", err)
	}

	size := cfg.Models.LatentSize
	ae := &ONNXAutoencoder{
		encoder:       encoder,
		decoder:       decoder,
		latentShape:   []int{1, cfg.Models.LatentChannels, size, size},
		imageSize:     size * 8,
		scalingFactor: float32(cfg.Models.ScalingFactor),
	}
	if ae.scalingFactor == 0 {
		if factor, ok := readScalingFactor(filepath.Join(dir, "config.json")); ok {
			ae.scalingFactor = factor
		} else {
			ae.scalingFactor = 0.18215 // SD-family VAE default
		}
	}
	return ae, nil
}

// readScalingFactor pulls scaling_factor out of a diffusers-style
// config.json sitting next to the model weights.
func readScalingFactor(path string) (float32, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var parsed autoencoderConfig
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ScalingFactor <= 0 {
		return 0, false
	}
	return parsed.ScalingFactor, true
}

// Encode maps an image tensor to its latent posterior. The encoder output
// concatenates mean and log-variance along the channel axis.
func (a *ONNXAutoencoder) Encode(ctx context.Context, image *tensor.Tensor) (*Posterior, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(shapeOf(image.Shape), image.Data)
	if err != nil {
		return nil, fmt.Errorf("models: encode input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := a.encoder.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("models: encoder run: %w", err)
	}
	defer destroyAll(outputs)

	moments, err := extractFloat32(outputs[0])
	if err != nil {
		return nil, err
	}
	numel := tensor.Numel(a.latentShape)
	if len(moments) != 2*numel {
		return nil, fmt.Errorf("models: encoder output length %d, want %d moments", len(moments), 2*numel)
	}
	return &Posterior{
		Mean:   moments[:numel],
		LogVar: moments[numel:],
		Shape:  a.latentShape,
	}, nil
}

// Decode maps a latent tensor back to image space.
func (a *ONNXAutoencoder) Decode(ctx context.Context, latent *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(shapeOf(latent.Shape), latent.Data)
	if err != nil {
		return nil, fmt.Errorf("models: decode input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := a.decoder.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("models: decoder run: %w", err)
	}
	defer destroyAll(outputs)

	data, err := extractFloat32(outputs[0])
	if err != nil {
		return nil, err
	}
	return tensor.From(data, 1, 3, a.imageSize, a.imageSize)
}

// ScalingFactor returns the latent scaling factor in effect.
func (a *ONNXAutoencoder) ScalingFactor() float32 { return a.scalingFactor }

// Close releases both sessions.
func (a *ONNXAutoencoder) Close() error {
	if a.encoder != nil {
		a.encoder.Destroy()
		a.encoder = nil
	}
	if a.decoder != nil {
		a.decoder.Destroy()
		a.decoder = nil
	}
	return nil
}

func openSession(path string) (*ort.DynamicAdvancedSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	inNames := make([]string, len(inputs))
	for i, in := range inputs {
		inNames[i] = in.Name
	}
	outNames := make([]string, len(outputs))
	for i, out := range outputs {
		outNames[i] = out.Name
	}
	return ort.NewDynamicAdvancedSession(path, inNames, outNames, nil)
}

func shapeOf(dims []int) ort.Shape {
	out := make([]int64, len(dims))
	for i, d := range dims {
		out[i] = int64(d)
	}
	return ort.NewShape(out...)
}

func extractFloat32(v ort.Value) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("models: unsupported output tensor type %T", v)
	}
	src := t.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
