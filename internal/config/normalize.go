package config

import (
	"fmt"
	"strings"
)

// normalize expands path fields and applies the selected profile overlay.
// Runs after decoding, before validation.
func (c *Config) normalize() error {
	if err := c.applyProfile(); err != nil {
		return err
	}

	paths := []struct {
		name  string
		value *string
	}{
		{"paths.data_root", &c.Paths.DataRoot},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.checkpoint_dir", &c.Paths.CheckpointDir},
		{"models.denoiser_path", &c.Models.DenoiserPath},
		{"models.autoencoder_path", &c.Models.AutoencoderPath},
		{"models.embedding_path", &c.Models.EmbeddingPath},
		{"models.runtime_library", &c.Models.RuntimeLibrary},
	}
	for _, entry := range paths {
		trimmed := strings.TrimSpace(*entry.value)
		if trimmed == "" {
			*entry.value = ""
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.name, err)
		}
		*entry.value = expanded
	}

	c.Schedule.Family = strings.ToLower(strings.TrimSpace(c.Schedule.Family))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

func (c *Config) applyProfile() error {
	profile := strings.ToLower(strings.TrimSpace(c.Profile))
	c.Profile = profile
	switch profile {
	case "":
		return nil
	case ProfileLowMemory:
		// Only rewrite values the user left at stock defaults; explicit
		// settings win over the profile.
		if c.Classifier.Epochs == defaultClassifierEpochs {
			c.Classifier.Epochs = 15
		}
		if c.Classifier.BatchSize == defaultClassifierBatch {
			c.Classifier.BatchSize = 16
		}
		if c.Classifier.LearningRate == defaultClassifierLR {
			c.Classifier.LearningRate = 1e-3
		}
		if c.Classifier.MaxSamplesPerClass == defaultMaxSamplesPerClass {
			c.Classifier.MaxSamplesPerClass = 300
		}
		return nil
	default:
		return fmt.Errorf("profile: unknown value %q", profile)
	}
}
