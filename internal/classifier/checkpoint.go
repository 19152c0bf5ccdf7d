package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"vouch/internal/fileutil"
	"vouch/internal/services"
)

// Checkpoint is the persisted form of a trained classifier: final
// weights, the full training history, and enough metadata to verify it
// matches the run that needs it.
type Checkpoint struct {
	IdentityID  int          `json:"identity_id"`
	FeatureSize int          `json:"feature_size"`
	Network     *Network     `json:"network"`
	History     []EpochStats `json:"history"`
	CreatedAt   time.Time    `json:"created_at"`
}

// SaveCheckpoint writes a zstd-compressed JSON checkpoint atomically.
func SaveCheckpoint(cp *Checkpoint, path string) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("classifier: marshal checkpoint: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("classifier: zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	encoder.Close()

	if err := fileutil.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("classifier: ensure checkpoint directory: %w", err)
	}
	if err := fileutil.WriteAtomic(path, compressed, 0o644); err != nil {
		return fmt.Errorf("classifier: write checkpoint %s: %w", path, err)
	}
	return nil
}

// LoadCheckpoint reads a checkpoint written by SaveCheckpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "classifier", "checkpoint", "read "+path, err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("classifier: zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "classifier", "checkpoint", "decompress "+path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "classifier", "checkpoint", "parse "+path, err)
	}
	if cp.Network == nil || len(cp.Network.Sizes) < 2 {
		return nil, services.Wrap(services.ErrModelLoad, "classifier", "checkpoint",
			"checkpoint has no network weights", nil)
	}
	return &cp, nil
}
