package preflight

import (
	"context"

	"vouch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the preflight checks for the given config: model
// artifacts on disk, the identity dataset layout, and write access to
// the directories a run touches.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	_ = ctx

	var results []Result

	results = append(results, CheckModelFile("Denoiser model", cfg.Models.DenoiserPath))
	results = append(results, CheckDirectoryAccess("Autoencoder directory", cfg.Models.AutoencoderPath))
	results = append(results, CheckModelFile("Identity embeddings", cfg.Models.EmbeddingPath))

	results = append(results, CheckDataRoot(cfg.Paths.DataRoot))
	results = append(results, CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckDirectoryAccess("Checkpoint directory", cfg.Paths.CheckpointDir))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return len(results) > 0
}
