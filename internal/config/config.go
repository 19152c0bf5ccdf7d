package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataRoot      string `toml:"data_root"`
	OutputDir     string `toml:"output_dir"`
	LogDir        string `toml:"log_dir"`
	StateDir      string `toml:"state_dir"`
	CheckpointDir string `toml:"checkpoint_dir"`
}

// Models contains the pretrained model artifact paths and tensor-shape
// configuration for the pipeline under validation.
type Models struct {
	DenoiserPath    string `toml:"denoiser_path"`
	AutoencoderPath string `toml:"autoencoder_path"`
	EmbeddingPath   string `toml:"embedding_path"`
	RuntimeLibrary  string `toml:"runtime_library"`
	EmbeddingDim    int    `toml:"embedding_dim"`
	LatentChannels  int    `toml:"latent_channels"`
	LatentSize      int    `toml:"latent_size"`
	// ScalingFactor overrides the factor read from the autoencoder's own
	// configuration when non-zero. Leave at 0 to trust the model artifact.
	ScalingFactor float64 `toml:"scaling_factor"`
}

// Schedule contains the forward diffusion noise schedule parameters. These
// must reproduce the exact training-time coefficients; a silent mismatch
// degrades sample quality without any error surfacing.
type Schedule struct {
	TrainTimesteps int     `toml:"train_timesteps"`
	BetaStart      float64 `toml:"beta_start"`
	BetaEnd        float64 `toml:"beta_end"`
	Family         string  `toml:"family"`
}

// Sampling contains the guided reverse-diffusion parameters.
type Sampling struct {
	InferenceSteps    int     `toml:"inference_steps"`
	GuidanceScale     float64 `toml:"guidance_scale"`
	ImagesPerIdentity int     `toml:"images_per_identity"`
	Seed              int64   `toml:"seed"`
	Workers           int     `toml:"workers"`
}

// Classifier contains the per-identity discriminator training parameters.
type Classifier struct {
	Epochs             int     `toml:"epochs"`
	BatchSize          int     `toml:"batch_size"`
	LearningRate       float64 `toml:"learning_rate"`
	MaxSamplesPerClass int     `toml:"max_samples_per_class"`
	TrainRatio         float64 `toml:"train_ratio"`
	AccuracyGate       float64 `toml:"accuracy_gate"`
	FeatureSize        int     `toml:"feature_size"`
}

// Scoring contains the generated-image validation thresholds.
type Scoring struct {
	ConfidenceThreshold     float64 `toml:"confidence_threshold"`
	SuccessRateThreshold    float64 `toml:"success_rate_threshold"`
	MeanConfidenceThreshold float64 `toml:"mean_confidence_threshold"`
}

// Recon contains the autoencoder reconstruction-check parameters.
type Recon struct {
	Enabled            bool `toml:"enabled"`
	Samples            int  `toml:"samples"`
	CorrelationSamples int  `toml:"correlation_samples"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vouch.
//
// Sections by subsystem:
//   - Paths: data root, output, log, state, and checkpoint directories
//   - Models: pretrained artifact paths and latent tensor shapes
//   - Schedule: training-time diffusion noise schedule
//   - Sampling: guided generation parameters
//   - Classifier: per-identity discriminator training
//   - Scoring: confidence thresholds and the pass/fail gate
//   - Recon: autoencoder round-trip preflight
//   - Logging: log format and level
//
// Profile selects a named defaults overlay; "low_memory" shrinks the
// classifier workload for constrained hosts.
type Config struct {
	Profile    string     `toml:"profile"`
	Paths      Paths      `toml:"paths"`
	Models     Models     `toml:"models"`
	Schedule   Schedule   `toml:"schedule"`
	Sampling   Sampling   `toml:"sampling"`
	Classifier Classifier `toml:"classifier"`
	Scoring    Scoring    `toml:"scoring"`
	Recon      Recon      `toml:"recon"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vouch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("vouch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the pipeline writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir, c.Paths.CheckpointDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// GeneratedDir returns the directory generated images for one identity are
// written to.
func (c *Config) GeneratedDir(identityID int) string {
	return filepath.Join(c.Paths.OutputDir, "generated", fmt.Sprintf("identity_%02d", identityID))
}

// CheckpointPath returns the classifier checkpoint path for one identity.
func (c *Config) CheckpointPath(identityID int) string {
	return filepath.Join(c.Paths.CheckpointDir, fmt.Sprintf("identity_%02d_classifier.json.zst", identityID))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
