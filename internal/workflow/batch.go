package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"vouch/internal/logging"
	"vouch/internal/services"
)

// BatchResult aggregates the outcome of a run over every identity.
type BatchResult struct {
	Results   []*RunResult `json:"results"`
	Succeeded int          `json:"succeeded"`
	Flagged   int          `json:"flagged"`
	Errored   int          `json:"errored"`
}

// RunBatch validates every discovered identity. A file lock under the
// state directory keeps concurrent batch invocations from interleaving
// writes to the same outputs. Individual run failures do not stop the
// batch; they are counted and reported.
func (m *Manager) RunBatch(ctx context.Context) (*BatchResult, error) {
	lock := flock.New(filepath.Join(m.cfg.Paths.StateDir, "vouch.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("workflow: acquire batch lock: %w", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "workflow", "batch",
			"another batch run holds the lock", nil)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	ids := m.mapping.IDs()
	workers := m.cfg.Sampling.Workers
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	batch := &BatchResult{Results: make([]*RunResult, 0, len(ids))}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)

	for _, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result, err := m.RunIdentity(groupCtx, id)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				batch.Errored++
				m.logger.Warn("identity run errored in batch",
					logging.Int("identity_id", id),
					logging.Error(err))
			case result.OverallSuccess:
				batch.Succeeded++
			default:
				batch.Flagged++
			}
			if result != nil {
				batch.Results = append(batch.Results, result)
			}
			// Only cancellation stops the batch.
			return groupCtx.Err()
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(batch.Results, func(i, j int) bool {
		return batch.Results[i].IdentityID < batch.Results[j].IdentityID
	})

	m.logger.Info("batch run complete",
		logging.Int("identities", len(ids)),
		logging.Int("succeeded", batch.Succeeded),
		logging.Int("flagged", batch.Flagged),
		logging.Int("errored", batch.Errored))
	return batch, nil
}
