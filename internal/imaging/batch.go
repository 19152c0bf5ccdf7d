package imaging

import (
	"context"

	"golang.org/x/sync/errgroup"

	"vouch/internal/tensor"
)

// LoadBatch decodes the listed image files concurrently, preserving
// input order. Concurrency is capped at the given limit.
func LoadBatch(ctx context.Context, paths []string, concurrency int) ([]*tensor.Tensor, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	out := make([]*tensor.Tensor, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, path := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := LoadImage(path)
			if err != nil {
				return err
			}
			out[i] = img
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FeatureBatch loads and featurizes the listed images concurrently.
func FeatureBatch(ctx context.Context, paths []string, featureSize, concurrency int) ([][]float32, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	out := make([][]float32, len(paths))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, path := range paths {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := LoadImage(path)
			if err != nil {
				return err
			}
			features, err := Features(img, featureSize)
			if err != nil {
				return err
			}
			out[i] = features
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
