package config

const (
	defaultDataRoot      = "~/.local/share/vouch/data"
	defaultOutputDir     = "~/.local/share/vouch/output"
	defaultLogDir        = "~/.local/share/vouch/logs"
	defaultStateDir      = "~/.local/share/vouch/state"
	defaultCheckpointDir = "~/.local/share/vouch/checkpoints"

	defaultEmbeddingDim   = 768
	defaultLatentChannels = 4
	defaultLatentSize     = 32

	defaultTrainTimesteps = 1000
	defaultBetaStart      = 0.00085
	defaultBetaEnd        = 0.012
	defaultScheduleFamily = "scaled_linear"

	defaultInferenceSteps    = 50
	defaultGuidanceScale     = 15.0
	defaultImagesPerIdentity = 16
	defaultSamplingWorkers   = 1

	defaultClassifierEpochs   = 30
	defaultClassifierBatch    = 32
	defaultClassifierLR       = 5e-4
	defaultMaxSamplesPerClass = 1000
	defaultTrainRatio         = 0.8
	defaultAccuracyGate       = 0.7
	defaultFeatureSize        = 64

	defaultConfidenceThreshold     = 0.8
	defaultSuccessRateThreshold    = 0.6
	defaultMeanConfidenceThreshold = 0.8

	defaultReconSamples            = 50
	defaultReconCorrelationSamples = 4

	defaultLogFormat = "auto"
	defaultLogLevel  = "info"
)

// ProfileLowMemory names the constrained-host defaults overlay. It mirrors
// the reduced training workload the original pipeline used on shared
// accelerator hosts: fewer epochs, smaller batches, a higher learning rate
// to converge in the shorter run, and a smaller per-class sample cap.
const ProfileLowMemory = "low_memory"

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataRoot:      defaultDataRoot,
			OutputDir:     defaultOutputDir,
			LogDir:        defaultLogDir,
			StateDir:      defaultStateDir,
			CheckpointDir: defaultCheckpointDir,
		},
		Models: Models{
			EmbeddingDim:   defaultEmbeddingDim,
			LatentChannels: defaultLatentChannels,
			LatentSize:     defaultLatentSize,
		},
		Schedule: Schedule{
			TrainTimesteps: defaultTrainTimesteps,
			BetaStart:      defaultBetaStart,
			BetaEnd:        defaultBetaEnd,
			Family:         defaultScheduleFamily,
		},
		Sampling: Sampling{
			InferenceSteps:    defaultInferenceSteps,
			GuidanceScale:     defaultGuidanceScale,
			ImagesPerIdentity: defaultImagesPerIdentity,
			Workers:           defaultSamplingWorkers,
		},
		Classifier: Classifier{
			Epochs:             defaultClassifierEpochs,
			BatchSize:          defaultClassifierBatch,
			LearningRate:       defaultClassifierLR,
			MaxSamplesPerClass: defaultMaxSamplesPerClass,
			TrainRatio:         defaultTrainRatio,
			AccuracyGate:       defaultAccuracyGate,
			FeatureSize:        defaultFeatureSize,
		},
		Scoring: Scoring{
			ConfidenceThreshold:     defaultConfidenceThreshold,
			SuccessRateThreshold:    defaultSuccessRateThreshold,
			MeanConfidenceThreshold: defaultMeanConfidenceThreshold,
		},
		Recon: Recon{
			Enabled:            true,
			Samples:            defaultReconSamples,
			CorrelationSamples: defaultReconCorrelationSamples,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
