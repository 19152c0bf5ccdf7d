package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"vouch/internal/classifier"
	"vouch/internal/dataset"
	"vouch/internal/identity"
	"vouch/internal/scoring"
)

// newTrainCommand trains and persists a per-identity classifier without
// touching the generation models, mirroring classifier-only validation.
func newTrainCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var overrides overrideFlags

	cmd := &cobra.Command{
		Use:   "train <identity-id>",
		Short: "Train and persist the classifier for one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := strconv.Atoi(args[0])
			if err != nil || identityID < 0 {
				return fmt.Errorf("invalid identity id %q", args[0])
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrides.apply(cmd, cfg); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			mapping, err := identity.Discover(cfg.Paths.DataRoot)
			if err != nil {
				return err
			}

			examples, err := dataset.Build(cmd.Context(), mapping, identityID, dataset.Options{
				MaxPerClass: cfg.Classifier.MaxSamplesPerClass,
				FeatureSize: cfg.Classifier.FeatureSize,
				Concurrency: cfg.Sampling.Workers,
			})
			if err != nil {
				return err
			}
			train, val, err := dataset.Split(examples, cfg.Classifier.TrainRatio, cfg.Sampling.Seed)
			if err != nil {
				return err
			}

			trainer, err := classifier.NewTrainer(classifier.TrainerOptions{
				Epochs:       cfg.Classifier.Epochs,
				BatchSize:    cfg.Classifier.BatchSize,
				LearningRate: cfg.Classifier.LearningRate,
				Seed:         cfg.Sampling.Seed,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			result, err := trainer.Train(cmd.Context(), train, val)
			if err != nil {
				return err
			}
			bestAcc := classifier.BestValAccuracy(result.History)

			checkpointPath := cfg.CheckpointPath(identityID)
			if err := classifier.SaveCheckpoint(&classifier.Checkpoint{
				IdentityID:  identityID,
				FeatureSize: cfg.Classifier.FeatureSize,
				Network:     result.Network,
				History:     result.History,
				CreatedAt:   time.Now().UTC(),
			}, checkpointPath); err != nil {
				return err
			}

			gatePassed := bestAcc > cfg.Classifier.AccuracyGate
			if jsonOut {
				if err := writeJSON(cmd, map[string]any{
					"identity_id":       identityID,
					"examples":          len(examples),
					"best_val_accuracy": bestAcc,
					"accuracy_gate":     cfg.Classifier.AccuracyGate,
					"gate_passed":       gatePassed,
					"checkpoint_path":   checkpointPath,
					"history":           result.History,
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Trained on %d examples (%d train / %d val)\n",
					len(examples), len(train), len(val))
				fmt.Fprintf(out, "  Best val accuracy: %.3f (gate %.2f: %s)\n",
					bestAcc, cfg.Classifier.AccuracyGate, formatVerdict(gatePassed))
				fmt.Fprintf(out, "  Checkpoint:        %s\n", checkpointPath)
			}
			if !gatePassed {
				return fmt.Errorf("identity %d classifier did not exceed the accuracy gate", identityID)
			}
			return nil
		},
	}

	overrides.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

// newScoreCommand scores an existing image directory with a persisted
// classifier checkpoint.
func newScoreCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var dirFlag string
	var checkpointFlag string
	var overrides overrideFlags

	cmd := &cobra.Command{
		Use:   "score <identity-id>",
		Short: "Score generated images against a persisted classifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identityID, err := strconv.Atoi(args[0])
			if err != nil || identityID < 0 {
				return fmt.Errorf("invalid identity id %q", args[0])
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrides.apply(cmd, cfg); err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			checkpointPath := checkpointFlag
			if checkpointPath == "" {
				checkpointPath = cfg.CheckpointPath(identityID)
			}
			checkpoint, err := classifier.LoadCheckpoint(checkpointPath)
			if err != nil {
				return err
			}
			if checkpoint.IdentityID != identityID {
				return fmt.Errorf("checkpoint %s belongs to identity %d, not %d",
					checkpointPath, checkpoint.IdentityID, identityID)
			}

			dir := dirFlag
			if dir == "" {
				dir = cfg.GeneratedDir(identityID)
			}

			scorer, err := scoring.New(scoring.Options{
				Network:             checkpoint.Network,
				FeatureSize:         checkpoint.FeatureSize,
				ConfidenceThreshold: cfg.Scoring.ConfidenceThreshold,
				Concurrency:         cfg.Sampling.Workers,
				Logger:              logger,
			})
			if err != nil {
				return err
			}
			summary, err := scorer.ScoreDirectory(cmd.Context(), dir)
			if err != nil {
				return err
			}

			overall := summary.SuccessRate >= cfg.Scoring.SuccessRateThreshold &&
				summary.MeanConfidence >= cfg.Scoring.MeanConfidenceThreshold
			if jsonOut {
				if err := writeJSON(cmd, map[string]any{
					"identity_id":     identityID,
					"directory":       dir,
					"summary":         summary,
					"overall_success": overall,
				}); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Scored %d images in %s\n", summary.Total, dir)
				fmt.Fprintf(out, "  Success rate:    %s (%d/%d)\n",
					formatPercent(summary.SuccessRate), summary.Successes, summary.Total)
				fmt.Fprintf(out, "  Mean confidence: %.3f (min %.3f / max %.3f)\n",
					summary.MeanConfidence, summary.MinConfidence, summary.MaxConfidence)
				fmt.Fprintf(out, "  Verdict:         %s\n", formatVerdict(overall))
			}
			if !overall {
				return fmt.Errorf("identity %d did not pass the validation gate", identityID)
			}
			return nil
		},
	}

	overrides.register(cmd)
	cmd.Flags().StringVar(&dirFlag, "dir", "", "Image directory to score (default: the identity's generated directory)")
	cmd.Flags().StringVar(&checkpointFlag, "checkpoint", "", "Classifier checkpoint path override")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}
