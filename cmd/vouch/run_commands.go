package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"vouch/internal/config"
	"vouch/internal/preflight"
	"vouch/internal/queue"
	"vouch/internal/workflow"
)

// overrideFlags let one invocation override config values without editing
// the file. Only flags the user actually set are applied.
type overrideFlags struct {
	dataRoot        string
	outputDir       string
	denoiser        string
	autoencoder     string
	embeddings      string
	seed            int64
	steps           int
	guidance        float64
	images          int
	workers         int
	epochs          int
	batchSize       int
	learningRate    float64
	confidenceLevel float64
}

func (f *overrideFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.dataRoot, "data-root", "", "Reference image root override")
	flags.StringVar(&f.outputDir, "output-dir", "", "Output directory override")
	flags.StringVar(&f.denoiser, "denoiser", "", "Denoiser model path override")
	flags.StringVar(&f.autoencoder, "autoencoder", "", "Autoencoder model directory override")
	flags.StringVar(&f.embeddings, "embeddings", "", "Embedding table path override")
	flags.Int64Var(&f.seed, "seed", 0, "Base sampling seed override")
	flags.IntVar(&f.steps, "steps", 0, "Inference step count override")
	flags.Float64Var(&f.guidance, "guidance-scale", 0, "Classifier-free guidance scale override")
	flags.IntVar(&f.images, "images", 0, "Images generated per identity override")
	flags.IntVar(&f.workers, "workers", 0, "Concurrent identity runs override")
	flags.IntVar(&f.epochs, "epochs", 0, "Classifier epoch count override")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Classifier batch size override")
	flags.Float64Var(&f.learningRate, "learning-rate", 0, "Classifier learning rate override")
	flags.Float64Var(&f.confidenceLevel, "confidence-threshold", 0, "Per-image confidence threshold override")
}

func (f *overrideFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("data-root") {
		expanded, err := config.ExpandPath(f.dataRoot)
		if err != nil {
			return err
		}
		cfg.Paths.DataRoot = expanded
	}
	if flags.Changed("output-dir") {
		expanded, err := config.ExpandPath(f.outputDir)
		if err != nil {
			return err
		}
		cfg.Paths.OutputDir = expanded
	}
	if flags.Changed("denoiser") {
		cfg.Models.DenoiserPath = f.denoiser
	}
	if flags.Changed("autoencoder") {
		cfg.Models.AutoencoderPath = f.autoencoder
	}
	if flags.Changed("embeddings") {
		cfg.Models.EmbeddingPath = f.embeddings
	}
	if flags.Changed("seed") {
		cfg.Sampling.Seed = f.seed
	}
	if flags.Changed("steps") {
		cfg.Sampling.InferenceSteps = f.steps
	}
	if flags.Changed("guidance-scale") {
		cfg.Sampling.GuidanceScale = f.guidance
	}
	if flags.Changed("images") {
		cfg.Sampling.ImagesPerIdentity = f.images
	}
	if flags.Changed("workers") {
		cfg.Sampling.Workers = f.workers
	}
	if flags.Changed("epochs") {
		cfg.Classifier.Epochs = f.epochs
	}
	if flags.Changed("batch-size") {
		cfg.Classifier.BatchSize = f.batchSize
	}
	if flags.Changed("learning-rate") {
		cfg.Classifier.LearningRate = f.learningRate
	}
	if flags.Changed("confidence-threshold") {
		cfg.Scoring.ConfidenceThreshold = f.confidenceLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.EnsureDirectories()
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var skipTrain bool
	var skipGenerate bool
	var overrides overrideFlags

	cmd := &cobra.Command{
		Use:   "run <identity-id>",
		Short: "Validate a single identity end to end",
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
			if err := runPreflight(cmd, cfg, jsonOut); err != nil {
				return err
			}

			return ctx.withManager(func(manager *workflow.Manager, _ *queue.Store) error {
				result, runErr := manager.RunIdentityWithOptions(cmd.Context(), identityID, workflow.RunOptions{
					SkipTrain:    skipTrain,
					SkipGenerate: skipGenerate,
				})
				if runErr != nil {
					return runErr
				}
				if jsonOut {
					if err := writeJSON(cmd, result); err != nil {
						return err
					}
				} else {
					printRunResult(cmd.OutOrStdout(), result)
				}
				if !result.OverallSuccess {
					return fmt.Errorf("identity %d flagged for review: %s", identityID, result.FailureReason)
				}
				return nil
			})
		},
	}

	overrides.register(cmd)
	cmd.Flags().BoolVar(&skipTrain, "skip-train", false, "Reuse the persisted classifier checkpoint")
	cmd.Flags().BoolVar(&skipGenerate, "skip-generate", false, "Score existing generated images instead of sampling")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

func newBatchCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var overrides overrideFlags

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Validate every discovered identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overrides.apply(cmd, cfg); err != nil {
				return err
			}
			if err := runPreflight(cmd, cfg, jsonOut); err != nil {
				return err
			}

			return ctx.withManager(func(manager *workflow.Manager, _ *queue.Store) error {
				batch, err := manager.RunBatch(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					if err := writeJSON(cmd, batch); err != nil {
						return err
					}
				} else {
					printBatchResult(cmd.OutOrStdout(), batch)
				}
				if batch.Errored > 0 || batch.Flagged > 0 {
					return fmt.Errorf("batch finished with %d passed, %d flagged, %d errored",
						batch.Succeeded, batch.Flagged, batch.Errored)
				}
				return nil
			})
		},
	}

	overrides.register(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check model artifacts, directories, and reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runPreflight(cmd, cfg, jsonOut)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit results as JSON")
	return cmd
}

func runPreflight(cmd *cobra.Command, cfg *config.Config, jsonOut bool) error {
	results := preflight.RunAll(cmd.Context(), cfg)
	if jsonOut {
		if err := writeJSON(cmd, map[string]any{
			"checks": results,
			"passed": preflight.AllPassed(results),
		}); err != nil {
			return err
		}
	} else {
		rows := make([][]string, 0, len(results))
		for _, result := range results {
			status := "ok"
			if !result.Passed {
				status = "FAILED"
			}
			rows = append(rows, []string{result.Name, status, result.Detail})
		}
		table := renderTable([]string{"Check", "Status", "Detail"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft})
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}
	if !preflight.AllPassed(results) {
		return fmt.Errorf("preflight checks failed")
	}
	return nil
}

func printRunResult(out io.Writer, result *workflow.RunResult) {
	fmt.Fprintf(out, "Identity %d: %s\n", result.IdentityID, formatVerdict(result.OverallSuccess))
	fmt.Fprintf(out, "  Success rate:    %s (%d/%d)\n",
		formatPercent(result.SuccessRate), result.SuccessCount, result.TotalImages)
	fmt.Fprintf(out, "  Mean confidence: %.3f\n", result.MeanConfidence)
	fmt.Fprintf(out, "  Best val acc:    %.3f\n", result.BestValAccuracy)
	if result.Recon != nil {
		fmt.Fprintf(out, "  Reconstruction:  %.1f dB (%s)\n",
			result.Recon.PSNR, formatBandLabel(result.Recon.PSNRBand))
	}
	if result.CheckpointPath != "" {
		fmt.Fprintf(out, "  Checkpoint:      %s\n", result.CheckpointPath)
	}
	if result.GeneratedDir != "" {
		fmt.Fprintf(out, "  Generated:       %s\n", result.GeneratedDir)
	}
	if result.FailureReason != "" {
		fmt.Fprintf(out, "  Reason:          %s\n", result.FailureReason)
	}
}

func printBatchResult(out io.Writer, batch *workflow.BatchResult) {
	rows := make([][]string, 0, len(batch.Results))
	for _, result := range batch.Results {
		reason := result.FailureReason
		if reason == "" {
			reason = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(result.IdentityID),
			formatVerdict(result.OverallSuccess),
			formatPercent(result.SuccessRate),
			fmt.Sprintf("%.3f", result.MeanConfidence),
			reason,
		})
	}
	table := renderTable(
		[]string{"Identity", "Verdict", "Success Rate", "Mean Conf", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignLeft},
	)
	fmt.Fprintln(out, table)
	fmt.Fprintf(out, "Passed: %d  Flagged: %d  Errored: %d\n",
		batch.Succeeded, batch.Flagged, batch.Errored)
}
