package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if err := c.validateSchedule(); err != nil {
		return err
	}
	if err := c.validateSampling(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateRecon(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataRoot == "" {
		return errors.New("paths.data_root must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.CheckpointDir == "" {
		return errors.New("paths.checkpoint_dir must be set")
	}
	return nil
}

func (c *Config) validateModels() error {
	if c.Models.EmbeddingDim < 1 {
		return errors.New("models.embedding_dim must be at least 1")
	}
	if c.Models.LatentChannels < 1 {
		return errors.New("models.latent_channels must be at least 1")
	}
	if c.Models.LatentSize < 1 {
		return errors.New("models.latent_size must be at least 1")
	}
	if c.Models.ScalingFactor < 0 {
		return errors.New("models.scaling_factor must not be negative")
	}
	return nil
}

func (c *Config) validateSchedule() error {
	if c.Schedule.TrainTimesteps < 1 {
		return errors.New("schedule.train_timesteps must be at least 1")
	}
	if c.Schedule.BetaStart <= 0 {
		return errors.New("schedule.beta_start must be positive")
	}
	if c.Schedule.BetaStart >= c.Schedule.BetaEnd {
		return errors.New("schedule.beta_start must be less than schedule.beta_end")
	}
	switch c.Schedule.Family {
	case "scaled_linear", "linear":
	default:
		return fmt.Errorf("schedule.family: unsupported value %q", c.Schedule.Family)
	}
	return nil
}

func (c *Config) validateSampling() error {
	if c.Sampling.InferenceSteps < 1 {
		return errors.New("sampling.inference_steps must be at least 1")
	}
	if c.Sampling.InferenceSteps > c.Schedule.TrainTimesteps {
		return fmt.Errorf("sampling.inference_steps must not exceed schedule.train_timesteps (%d)", c.Schedule.TrainTimesteps)
	}
	if c.Sampling.GuidanceScale < 0 {
		return errors.New("sampling.guidance_scale must not be negative")
	}
	if c.Sampling.ImagesPerIdentity < 1 {
		return errors.New("sampling.images_per_identity must be at least 1")
	}
	if c.Sampling.Workers < 1 {
		return errors.New("sampling.workers must be at least 1")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.Epochs < 1 {
		return errors.New("classifier.epochs must be at least 1")
	}
	if c.Classifier.BatchSize < 1 {
		return errors.New("classifier.batch_size must be at least 1")
	}
	if c.Classifier.LearningRate <= 0 {
		return errors.New("classifier.learning_rate must be positive")
	}
	if c.Classifier.MaxSamplesPerClass < 1 {
		return errors.New("classifier.max_samples_per_class must be at least 1")
	}
	if c.Classifier.TrainRatio <= 0 || c.Classifier.TrainRatio >= 1 {
		return errors.New("classifier.train_ratio must be between 0 and 1 exclusive")
	}
	if c.Classifier.AccuracyGate <= 0 || c.Classifier.AccuracyGate > 1 {
		return errors.New("classifier.accuracy_gate must be in (0, 1]")
	}
	if c.Classifier.FeatureSize < 1 {
		return errors.New("classifier.feature_size must be at least 1")
	}
	return nil
}

func (c *Config) validateScoring() error {
	thresholds := []struct {
		name  string
		value float64
	}{
		{"scoring.confidence_threshold", c.Scoring.ConfidenceThreshold},
		{"scoring.success_rate_threshold", c.Scoring.SuccessRateThreshold},
		{"scoring.mean_confidence_threshold", c.Scoring.MeanConfidenceThreshold},
	}
	for _, threshold := range thresholds {
		if threshold.value <= 0 || threshold.value > 1 {
			return fmt.Errorf("%s must be in (0, 1]", threshold.name)
		}
	}
	return nil
}

func (c *Config) validateRecon() error {
	if c.Recon.Samples < 1 {
		return errors.New("recon.samples must be at least 1")
	}
	if c.Recon.CorrelationSamples < 1 {
		return errors.New("recon.correlation_samples must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
