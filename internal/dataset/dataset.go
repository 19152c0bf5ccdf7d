// Package dataset builds the balanced binary training sets the
// per-identity classifier learns from.
package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"vouch/internal/identity"
	"vouch/internal/imaging"
	"vouch/internal/services"
)

// Example is one labeled feature vector. Label is 1 for the target
// identity, 0 otherwise.
type Example struct {
	Features []float32
	Label    float32
	Path     string
}

// Options configures dataset construction.
type Options struct {
	MaxPerClass int
	FeatureSize int
	Concurrency int
}

// Build assembles a balanced dataset for one target identity: positives
// come from the target's directory, negatives are drawn round-robin
// across every other identity so no single one dominates.
func Build(ctx context.Context, mapping *identity.Mapping, targetID int, opts Options) ([]Example, error) {
	targetDir, err := mapping.Dir(targetID)
	if err != nil {
		return nil, err
	}
	positivePaths, err := imaging.ListImages(targetDir)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "dataset", "build", "list target images", err)
	}
	if len(positivePaths) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "dataset", "build",
			fmt.Sprintf("no images for identity %d", targetID), nil)
	}
	if opts.MaxPerClass > 0 && len(positivePaths) > opts.MaxPerClass {
		positivePaths = positivePaths[:opts.MaxPerClass]
	}

	negativePaths, err := collectNegatives(mapping, targetID, len(positivePaths))
	if err != nil {
		return nil, err
	}

	examples := make([]Example, 0, len(positivePaths)+len(negativePaths))
	positiveFeatures, err := imaging.FeatureBatch(ctx, positivePaths, opts.FeatureSize, opts.Concurrency)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "dataset", "build", "load positives", err)
	}
	for i, features := range positiveFeatures {
		examples = append(examples, Example{Features: features, Label: 1, Path: positivePaths[i]})
	}

	negativeFeatures, err := imaging.FeatureBatch(ctx, negativePaths, opts.FeatureSize, opts.Concurrency)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "dataset", "build", "load negatives", err)
	}
	for i, features := range negativeFeatures {
		examples = append(examples, Example{Features: features, Label: 0, Path: negativePaths[i]})
	}

	return examples, nil
}

// collectNegatives interleaves one image at a time from each non-target
// identity until the requested count is reached or sources run dry.
func collectNegatives(mapping *identity.Mapping, targetID, want int) ([]string, error) {
	type source struct {
		paths []string
		next  int
	}

	var sources []*source
	for _, id := range mapping.IDs() {
		if id == targetID {
			continue
		}
		dir, err := mapping.Dir(id)
		if err != nil {
			return nil, err
		}
		paths, err := imaging.ListImages(dir)
		if err != nil {
			return nil, services.Wrap(services.ErrMissingData, "dataset", "build",
				fmt.Sprintf("list images for identity %d", id), err)
		}
		if len(paths) > 0 {
			sources = append(sources, &source{paths: paths})
		}
	}
	if len(sources) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "dataset", "build",
			fmt.Sprintf("no negative images outside identity %d", targetID), nil)
	}

	var out []string
	for len(out) < want {
		progressed := false
		for _, src := range sources {
			if len(out) >= want {
				break
			}
			if src.next >= len(src.paths) {
				continue
			}
			out = append(out, src.paths[src.next])
			src.next++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out, nil
}

// Split partitions examples into train and validation sets after a
// deterministic seeded shuffle. Both sides are always non-empty when
// at least two examples are given.
func Split(examples []Example, trainRatio float64, seed int64) (train, val []Example, err error) {
	if len(examples) < 2 {
		return nil, nil, services.Wrap(services.ErrMissingData, "dataset", "split",
			fmt.Sprintf("need at least 2 examples, got %d", len(examples)), nil)
	}
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, services.Wrap(services.ErrConfiguration, "dataset", "split",
			fmt.Sprintf("train ratio %g outside (0, 1)", trainRatio), nil)
	}

	shuffled := make([]Example, len(examples))
	copy(shuffled, examples)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	trainSize := int(float64(len(shuffled)) * trainRatio)
	if trainSize < 1 {
		trainSize = 1
	}
	if trainSize >= len(shuffled) {
		trainSize = len(shuffled) - 1
	}
	return shuffled[:trainSize], shuffled[trainSize:], nil
}
