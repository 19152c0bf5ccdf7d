package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"vouch/internal/classifier"
	"vouch/internal/config"
	"vouch/internal/dataset"
	"vouch/internal/decode"
	"vouch/internal/fileutil"
	"vouch/internal/identity"
	"vouch/internal/imaging"
	"vouch/internal/logging"
	"vouch/internal/models"
	"vouch/internal/queue"
	"vouch/internal/recon"
	"vouch/internal/sampler"
	"vouch/internal/schedule"
	"vouch/internal/scoring"
	"vouch/internal/services"
	"vouch/internal/stage"
)

// reconStage runs the autoencoder round-trip assessment over the target
// identity's reference images. It is advisory: a poor band is logged and
// recorded but never fails the run.
type reconStage struct {
	cfg         *config.Config
	mapping     *identity.Mapping
	autoencoder models.Autoencoder
	logger      *slog.Logger

	paths  []string
	report *recon.Report
}

func newReconStage(cfg *config.Config, mapping *identity.Mapping, autoencoder models.Autoencoder, logger *slog.Logger) *reconStage {
	return &reconStage{
		cfg:         cfg,
		mapping:     mapping,
		autoencoder: autoencoder,
		logger:      logging.NewComponentLogger(logger, "recon-stage"),
	}
}

func (s *reconStage) Prepare(_ context.Context, item *queue.Item) error {
	dir, err := s.mapping.Dir(item.IdentityID)
	if err != nil {
		return err
	}
	paths, err := imaging.ListImages(dir)
	if err != nil {
		return services.Wrap(services.ErrMissingData, "workflow", "recon", "list reference images", err)
	}
	if max := s.cfg.Recon.Samples; max > 0 && len(paths) > max {
		paths = paths[:max]
	}
	s.paths = paths
	return nil
}

func (s *reconStage) Execute(ctx context.Context, item *queue.Item) error {
	assessor := recon.NewAssessor(s.autoencoder, s.cfg.Recon.CorrelationSamples, s.logger)
	rng := rand.New(rand.NewSource(s.cfg.Sampling.Seed))

	report, err := assessor.Assess(ctx, s.paths, rng)
	if err != nil {
		// Advisory stage: record the problem and keep going.
		s.logger.Warn("reconstruction assessment failed",
			logging.Int("identity_id", item.IdentityID),
			logging.Error(err))
		item.ProgressMessage = fmt.Sprintf("reconstruction check skipped: %v", err)
		return nil
	}
	s.report = report

	s.logger.Info("reconstruction assessed",
		logging.Int("identity_id", item.IdentityID),
		logging.Int("samples", report.Samples),
		logging.Float64("mse", report.MSE),
		logging.Float64("psnr", report.PSNR),
		logging.String("psnr_band", report.PSNRBand),
		logging.String("correlation_band", report.CorrelationBand))
	if report.PSNRBand == recon.BandPoor {
		s.logger.Warn("autoencoder reconstruction quality is poor; generated images may not resemble references",
			logging.Int("identity_id", item.IdentityID),
			logging.Float64("psnr", report.PSNR))
	}
	item.ProgressMessage = fmt.Sprintf("reconstruction %s (%.1f dB)", report.PSNRBand, report.PSNR)
	return nil
}

func (s *reconStage) HealthCheck(_ context.Context) stage.Health {
	if s.autoencoder == nil {
		return stage.Unhealthy("recon", "autoencoder not loaded")
	}
	return stage.Healthy("recon")
}

// trainStage builds the balanced dataset and trains the per-identity
// classifier, gating on best validation accuracy before anything is
// generated.
type trainStage struct {
	cfg     *config.Config
	mapping *identity.Mapping
	logger  *slog.Logger

	examples []dataset.Example
	result   *classifier.Result
	bestAcc  float64
}

func newTrainStage(cfg *config.Config, mapping *identity.Mapping, logger *slog.Logger) *trainStage {
	return &trainStage{cfg: cfg, mapping: mapping, logger: logging.NewComponentLogger(logger, "train-stage")}
}

func (s *trainStage) Prepare(ctx context.Context, item *queue.Item) error {
	examples, err := dataset.Build(ctx, s.mapping, item.IdentityID, dataset.Options{
		MaxPerClass: s.cfg.Classifier.MaxSamplesPerClass,
		FeatureSize: s.cfg.Classifier.FeatureSize,
		Concurrency: s.cfg.Sampling.Workers,
	})
	if err != nil {
		return err
	}
	s.examples = examples
	return nil
}

func (s *trainStage) Execute(ctx context.Context, item *queue.Item) error {
	train, val, err := dataset.Split(s.examples, s.cfg.Classifier.TrainRatio, s.cfg.Sampling.Seed)
	if err != nil {
		return err
	}

	trainer, err := classifier.NewTrainer(classifier.TrainerOptions{
		Epochs:       s.cfg.Classifier.Epochs,
		BatchSize:    s.cfg.Classifier.BatchSize,
		LearningRate: s.cfg.Classifier.LearningRate,
		Seed:         s.cfg.Sampling.Seed,
		Logger:       s.logger,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := trainer.Train(ctx, train, val)
	if err != nil {
		return err
	}
	s.result = result
	s.bestAcc = classifier.BestValAccuracy(result.History)

	s.logger.Info("classifier trained",
		logging.Int("identity_id", item.IdentityID),
		logging.Int("examples", len(s.examples)),
		logging.Float64("best_val_accuracy", s.bestAcc),
		logging.Duration("duration", time.Since(start)))

	if s.bestAcc <= s.cfg.Classifier.AccuracyGate {
		return services.Wrap(services.ErrThresholdNotMet, "workflow", "train",
			fmt.Sprintf("best validation accuracy %.3f did not exceed gate %.2f",
				s.bestAcc, s.cfg.Classifier.AccuracyGate), nil)
	}

	checkpointPath := s.cfg.CheckpointPath(item.IdentityID)
	if err := classifier.SaveCheckpoint(&classifier.Checkpoint{
		IdentityID:  item.IdentityID,
		FeatureSize: s.cfg.Classifier.FeatureSize,
		Network:     result.Network,
		History:     result.History,
		CreatedAt:   time.Now().UTC(),
	}, checkpointPath); err != nil {
		return err
	}
	item.CheckpointPath = checkpointPath
	item.ProgressMessage = fmt.Sprintf("classifier ready (best val acc %.3f)", s.bestAcc)
	return nil
}

func (s *trainStage) HealthCheck(_ context.Context) stage.Health {
	if s.mapping == nil || s.mapping.Count() < 2 {
		return stage.Unhealthy("train", "need at least two identities for negatives")
	}
	return stage.Healthy("train")
}

// generateStage samples latents conditioned on the identity embedding
// and decodes them to PNG files.
type generateStage struct {
	cfg         *config.Config
	mapping     *identity.Mapping
	denoiser    models.Denoiser
	autoencoder models.Autoencoder
	embedder    models.Embedder
	sched       *schedule.Schedule
	logger      *slog.Logger

	conditioning []float32
}

func newGenerateStage(cfg *config.Config, mapping *identity.Mapping, denoiser models.Denoiser,
	autoencoder models.Autoencoder, embedder models.Embedder, sched *schedule.Schedule, logger *slog.Logger) *generateStage {
	return &generateStage{
		cfg:         cfg,
		mapping:     mapping,
		denoiser:    denoiser,
		autoencoder: autoencoder,
		embedder:    embedder,
		sched:       sched,
		logger:      logging.NewComponentLogger(logger, "generate-stage"),
	}
}

func (s *generateStage) Prepare(_ context.Context, item *queue.Item) error {
	conditioning, err := s.embedder.Embed(item.IdentityIndex)
	if err != nil {
		return services.Wrap(services.ErrModelLoad, "workflow", "generate", "look up identity embedding", err)
	}
	s.conditioning = conditioning

	dir := s.cfg.GeneratedDir(item.IdentityID)
	if err := fileutil.EnsureDir(dir); err != nil {
		return fmt.Errorf("workflow: ensure generated directory: %w", err)
	}
	item.GeneratedDir = dir
	return nil
}

func (s *generateStage) Execute(ctx context.Context, item *queue.Item) error {
	guided := sampler.NewGuidedDenoiser(s.denoiser, float32(s.cfg.Sampling.GuidanceScale), s.embedder.Dim())
	smp, err := sampler.New(sampler.Options{
		Schedule:       s.sched,
		Denoiser:       guided,
		InferenceSteps: s.cfg.Sampling.InferenceSteps,
		LatentChannels: s.cfg.Models.LatentChannels,
		LatentSize:     s.cfg.Models.LatentSize,
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}
	decoder := decode.New(s.autoencoder)

	total := s.cfg.Sampling.ImagesPerIdentity
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Each image gets its own derived seed for reproducibility.
		seed := s.cfg.Sampling.Seed + int64(item.IdentityID)*1_000_003 + int64(i)
		rng := rand.New(rand.NewSource(seed))

		start := time.Now()
		latent, err := smp.Run(ctx, s.conditioning, rng)
		if err != nil {
			return fmt.Errorf("workflow: sample image %d: %w", i, err)
		}
		path := decode.FilePath(item.GeneratedDir, item.IdentityID, i)
		if err := decoder.DecodeToFile(ctx, latent, path); err != nil {
			return fmt.Errorf("workflow: decode image %d: %w", i, err)
		}

		item.ImageCount = i + 1
		item.ProgressPercent = float64(i+1) / float64(total) * 100
		s.logger.Info("image generated",
			logging.Int("identity_id", item.IdentityID),
			logging.Int("image", i+1),
			logging.Int("total", total),
			logging.Duration("duration", time.Since(start)))
	}
	item.ProgressMessage = fmt.Sprintf("%d images generated", total)
	return nil
}

func (s *generateStage) HealthCheck(_ context.Context) stage.Health {
	if s.denoiser == nil || s.autoencoder == nil || s.embedder == nil {
		return stage.Unhealthy("generate", "models not loaded")
	}
	return stage.Healthy("generate")
}

// scoreStage evaluates the generated images with the trained classifier
// and applies the overall pass gate.
type scoreStage struct {
	cfg    *config.Config
	logger *slog.Logger

	network *classifier.Network
	summary *scoring.Summary
}

func newScoreStage(cfg *config.Config, logger *slog.Logger) *scoreStage {
	return &scoreStage{cfg: cfg, logger: logging.NewComponentLogger(logger, "score-stage")}
}

func (s *scoreStage) Prepare(_ context.Context, item *queue.Item) error {
	if item.CheckpointPath == "" {
		return services.Wrap(services.ErrMissingData, "workflow", "score", "no classifier checkpoint recorded", nil)
	}
	checkpoint, err := classifier.LoadCheckpoint(item.CheckpointPath)
	if err != nil {
		return err
	}
	if checkpoint.IdentityID != item.IdentityID {
		return services.Wrap(services.ErrValidation, "workflow", "score",
			fmt.Sprintf("checkpoint belongs to identity %d, not %d", checkpoint.IdentityID, item.IdentityID), nil)
	}
	s.network = checkpoint.Network
	return nil
}

func (s *scoreStage) Execute(ctx context.Context, item *queue.Item) error {
	scorer, err := scoring.New(scoring.Options{
		Network:             s.network,
		FeatureSize:         s.cfg.Classifier.FeatureSize,
		ConfidenceThreshold: s.cfg.Scoring.ConfidenceThreshold,
		Concurrency:         s.cfg.Sampling.Workers,
		Logger:              s.logger,
	})
	if err != nil {
		return err
	}

	summary, err := scorer.ScoreDirectory(ctx, item.GeneratedDir)
	if err != nil {
		return err
	}
	s.summary = summary

	s.logger.Info("generated images scored",
		logging.Int("identity_id", item.IdentityID),
		logging.Int("total", summary.Total),
		logging.Int("successes", summary.Successes),
		logging.Float64("success_rate", summary.SuccessRate),
		logging.Float64("mean_confidence", summary.MeanConfidence))
	item.ProgressMessage = fmt.Sprintf("%d/%d images passed", summary.Successes, summary.Total)
	return nil
}

func (s *scoreStage) HealthCheck(_ context.Context) stage.Health {
	return stage.Healthy("score")
}
