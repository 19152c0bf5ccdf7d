package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vouch/internal/fileutil"
	"vouch/internal/recon"
)

// RunResult is the persisted outcome of one identity validation run.
type RunResult struct {
	IdentityID      int            `json:"identity_id"`
	IdentityIndex   int            `json:"identity_index"`
	TotalImages     int            `json:"total_images"`
	SuccessCount    int            `json:"success_count"`
	SuccessRate     float64        `json:"success_rate"`
	MeanConfidence  float64        `json:"mean_confidence"`
	MinConfidence   float64        `json:"min_confidence"`
	MaxConfidence   float64        `json:"max_confidence"`
	OverallSuccess  bool           `json:"overall_success"`
	BestValAccuracy float64        `json:"best_val_accuracy"`
	FailureReason   string         `json:"failure_reason,omitempty"`
	CheckpointPath  string         `json:"checkpoint_path,omitempty"`
	GeneratedDir    string         `json:"generated_dir,omitempty"`
	Recon           *recon.Report  `json:"recon,omitempty"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// ResultPath returns where the result record for an identity lives.
func ResultPath(outputDir string, identityID int) string {
	return filepath.Join(outputDir, "results", fmt.Sprintf("identity_%02d_result.json", identityID))
}

// WriteResult persists a result record atomically.
func WriteResult(outputDir string, result *RunResult) (string, error) {
	path := ResultPath(outputDir, result.IdentityID)
	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return "", fmt.Errorf("workflow: ensure results directory: %w", err)
	}
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("workflow: marshal result: %w", err)
	}
	if err := fileutil.WriteAtomic(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("workflow: write result %s: %w", path, err)
	}
	return path, nil
}

// ReadResult loads a previously written result record.
func ReadResult(path string) (*RunResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read result %s: %w", path, err)
	}
	var result RunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("workflow: parse result %s: %w", path, err)
	}
	return &result, nil
}
