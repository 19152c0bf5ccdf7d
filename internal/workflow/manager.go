// Package workflow orchestrates identity validation runs: preflight,
// classifier training, guided generation, and scoring, with run state
// persisted in the queue store at every transition.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"vouch/internal/config"
	"vouch/internal/identity"
	"vouch/internal/imaging"
	"vouch/internal/logging"
	"vouch/internal/models"
	"vouch/internal/preflight"
	"vouch/internal/queue"
	"vouch/internal/schedule"
	"vouch/internal/services"
	"vouch/internal/stage"
)

// Deps carries everything a manager needs. Models are injected as
// interfaces so tests run against fakes.
type Deps struct {
	Config      *config.Config
	Store       *queue.Store
	Mapping     *identity.Mapping
	Denoiser    models.Denoiser
	Autoencoder models.Autoencoder
	Embedder    models.Embedder
	Logger      *slog.Logger
}

// Manager runs the validation pipeline for identities.
type Manager struct {
	cfg         *config.Config
	store       *queue.Store
	mapping     *identity.Mapping
	denoiser    models.Denoiser
	autoencoder models.Autoencoder
	embedder    models.Embedder
	sched       *schedule.Schedule
	logger      *slog.Logger
}

// NewManager validates dependencies and precomputes the noise schedule.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Config == nil || deps.Store == nil || deps.Mapping == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "manager",
			"config, store, and identity mapping are required", nil)
	}
	if deps.Denoiser == nil || deps.Autoencoder == nil || deps.Embedder == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "manager",
			"denoiser, autoencoder, and embedder are required", nil)
	}

	sched, err := schedule.New(schedule.Params{
		TrainTimesteps: deps.Config.Schedule.TrainTimesteps,
		BetaStart:      deps.Config.Schedule.BetaStart,
		BetaEnd:        deps.Config.Schedule.BetaEnd,
		Family:         deps.Config.Schedule.Family,
	})
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:         deps.Config,
		store:       deps.Store,
		mapping:     deps.Mapping,
		denoiser:    deps.Denoiser,
		autoencoder: deps.Autoencoder,
		embedder:    deps.Embedder,
		sched:       sched,
		logger:      logging.NewComponentLogger(logger, "workflow"),
	}, nil
}

// RunOptions selects partial pipeline runs. Skipped stages reuse the
// artifacts a previous run left behind.
type RunOptions struct {
	// SkipTrain reuses the persisted classifier checkpoint instead of
	// training a new one.
	SkipTrain bool
	// SkipGenerate scores the images already present in the identity's
	// generated directory instead of sampling new ones.
	SkipGenerate bool
}

// RunIdentity executes the full pipeline for one identity. A result
// record is written for every terminal outcome, including failures. The
// returned error is non-nil only for runs that did not reach a verdict.
func (m *Manager) RunIdentity(ctx context.Context, identityID int) (*RunResult, error) {
	return m.RunIdentityWithOptions(ctx, identityID, RunOptions{})
}

// RunIdentityWithOptions is RunIdentity with stage skipping.
func (m *Manager) RunIdentityWithOptions(ctx context.Context, identityID int, opts RunOptions) (*RunResult, error) {
	index, err := m.mapping.Index(identityID)
	if err != nil {
		return nil, err
	}

	item, err := m.store.NewIdentityRun(ctx, identityID, index)
	if err != nil {
		return nil, err
	}

	ctx = services.WithItemID(ctx, item.ID)
	ctx = services.WithIdentityID(ctx, identityID)
	ctx = services.WithRequestID(ctx, item.RequestID)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("validation run started")

	result := &RunResult{IdentityID: identityID, IdentityIndex: index}

	if err := m.runPreflight(ctx, item); err != nil {
		return m.finish(ctx, item, result, err)
	}

	reconStg := newReconStage(m.cfg, m.mapping, m.autoencoder, m.logger)
	if m.cfg.Recon.Enabled {
		if err := m.runStage(ctx, item, queue.StatusPreflighting, "recon", reconStg); err != nil {
			return m.finish(ctx, item, result, err)
		}
		result.Recon = reconStg.report
	}

	if opts.SkipTrain {
		item.CheckpointPath = m.cfg.CheckpointPath(identityID)
		logger.Info("training skipped; reusing checkpoint",
			logging.String("path", item.CheckpointPath))
	} else {
		trainStg := newTrainStage(m.cfg, m.mapping, m.logger)
		if err := m.runStage(ctx, item, queue.StatusTraining, "train", trainStg); err != nil {
			result.BestValAccuracy = trainStg.bestAcc
			return m.finish(ctx, item, result, err)
		}
		result.BestValAccuracy = trainStg.bestAcc
	}
	result.CheckpointPath = item.CheckpointPath

	if opts.SkipGenerate {
		item.GeneratedDir = m.cfg.GeneratedDir(identityID)
		logger.Info("generation skipped; scoring existing images",
			logging.String("dir", item.GeneratedDir))
	} else {
		generateStg := newGenerateStage(m.cfg, m.mapping, m.denoiser, m.autoencoder, m.embedder, m.sched, m.logger)
		if err := m.runStage(ctx, item, queue.StatusGenerating, "generate", generateStg); err != nil {
			// A model-load failure does not have to end the run: images from
			// a previous generation pass can still be scored against the
			// freshly trained classifier.
			dir := m.cfg.GeneratedDir(identityID)
			existing, listErr := imaging.ListImages(dir)
			if !errors.Is(err, services.ErrModelLoad) || listErr != nil || len(existing) == 0 {
				return m.finish(ctx, item, result, err)
			}
			item.GeneratedDir = dir
			logger.Warn("generation skipped after model load failure; scoring existing images",
				logging.Int("existing_images", len(existing)),
				logging.Error(err))
			item.ProgressMessage = fmt.Sprintf("generation skipped, scoring %d existing images", len(existing))
		}
	}
	result.GeneratedDir = item.GeneratedDir

	scoreStg := newScoreStage(m.cfg, m.logger)
	if err := m.runStage(ctx, item, queue.StatusScoring, "score", scoreStg); err != nil {
		return m.finish(ctx, item, result, err)
	}

	summary := scoreStg.summary
	result.TotalImages = summary.Total
	result.SuccessCount = summary.Successes
	result.SuccessRate = summary.SuccessRate
	result.MeanConfidence = summary.MeanConfidence
	result.MinConfidence = summary.MinConfidence
	result.MaxConfidence = summary.MaxConfidence
	result.OverallSuccess = m.gatePassed(summary.SuccessRate, summary.MeanConfidence)
	if !result.OverallSuccess {
		result.FailureReason = fmt.Sprintf(
			"validation gate not met: success rate %.3f (need >= %.2f) and mean confidence %.3f (need >= %.2f)",
			summary.SuccessRate, m.cfg.Scoring.SuccessRateThreshold,
			summary.MeanConfidence, m.cfg.Scoring.MeanConfidenceThreshold)
	}

	return m.finish(ctx, item, result, nil)
}

// gatePassed applies the conjunctive overall verdict: both the success
// rate and the mean confidence must clear their thresholds.
func (m *Manager) gatePassed(successRate, meanConfidence float64) bool {
	return successRate >= m.cfg.Scoring.SuccessRateThreshold &&
		meanConfidence >= m.cfg.Scoring.MeanConfidenceThreshold
}

func (m *Manager) runPreflight(ctx context.Context, item *queue.Item) error {
	if err := m.setStatus(ctx, item, queue.StatusPreflighting, "preflight"); err != nil {
		return err
	}

	results := []preflight.Result{
		preflight.CheckDataRoot(m.cfg.Paths.DataRoot),
		preflight.CheckDirectoryAccess("Output directory", m.cfg.Paths.OutputDir),
		preflight.CheckDirectoryAccess("Checkpoint directory", m.cfg.Paths.CheckpointDir),
		preflight.CheckDirectoryAccess("State directory", m.cfg.Paths.StateDir),
	}
	for _, result := range results {
		if !result.Passed {
			return services.Wrap(services.ErrConfiguration, "workflow", "preflight",
				fmt.Sprintf("%s: %s", result.Name, result.Detail), nil)
		}
	}
	return nil
}

func (m *Manager) runStage(ctx context.Context, item *queue.Item, status queue.Status, name string, handler stage.Handler) error {
	if err := m.setStatus(ctx, item, status, name); err != nil {
		return err
	}
	stageCtx := services.WithStage(ctx, name)

	if health := handler.HealthCheck(stageCtx); !health.Ready {
		return services.Wrap(services.ErrConfiguration, "workflow", name,
			fmt.Sprintf("stage unhealthy: %s", health.Detail), nil)
	}
	if err := handler.Prepare(stageCtx, item); err != nil {
		return fmt.Errorf("prepare %s: %w", name, err)
	}
	if err := handler.Execute(stageCtx, item); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	return m.store.Update(ctx, item)
}

func (m *Manager) setStatus(ctx context.Context, item *queue.Item, status queue.Status, progressStage string) error {
	item.Status = status
	item.ProgressStage = progressStage
	item.ProgressPercent = 0
	return m.store.Update(ctx, item)
}

// finish writes the result record and moves the item to its terminal
// status. Infinite confidence bounds from empty summaries are zeroed
// before persisting.
func (m *Manager) finish(ctx context.Context, item *queue.Item, result *RunResult, runErr error) (*RunResult, error) {
	logger := logging.WithContext(ctx, m.logger)

	if math.IsInf(result.MinConfidence, 0) {
		result.MinConfidence = 0
	}
	if math.IsInf(result.MaxConfidence, 0) {
		result.MaxConfidence = 0
	}
	result.CompletedAt = time.Now().UTC()

	switch {
	case runErr != nil:
		result.OverallSuccess = false
		result.FailureReason = runErr.Error()
		if services.FailureStatus(runErr) == queue.StatusReview {
			item.SetReview(runErr.Error())
		} else {
			item.SetFailed(runErr.Error())
		}
	case result.OverallSuccess:
		item.Status = queue.StatusCompleted
		item.FailureReason = ""
	default:
		item.SetReview(result.FailureReason)
	}

	if path, err := WriteResult(m.cfg.Paths.OutputDir, result); err != nil {
		logger.Error("failed to write result record", logging.Error(err))
	} else {
		logger.Info("result record written", logging.String("path", path))
	}
	if encoded, err := encodeResult(result); err == nil {
		item.ResultJSON = encoded
	}

	if err := m.store.Update(ctx, item); err != nil {
		logger.Error("failed to persist terminal status", logging.Error(err))
	}

	if runErr != nil {
		logger.Error("validation run failed",
			logging.String("status", string(item.Status)),
			logging.Error(runErr))
		return result, runErr
	}
	logger.Info("validation run finished",
		logging.String("status", string(item.Status)),
		logging.Bool("overall_success", result.OverallSuccess),
		logging.Float64("success_rate", result.SuccessRate),
		logging.Float64("mean_confidence", result.MeanConfidence))
	return result, nil
}

func encodeResult(result *RunResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
