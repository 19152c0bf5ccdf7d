// Package scoring runs the trained classifier over generated images and
// aggregates per-image confidences into a validation summary.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"vouch/internal/classifier"
	"vouch/internal/imaging"
	"vouch/internal/logging"
	"vouch/internal/services"
)

// ImageScore is the classifier verdict for one generated image.
type ImageScore struct {
	Path       string  `json:"path"`
	Confidence float64 `json:"confidence"`
	Success    bool    `json:"success"`
}

// Summary aggregates image scores over one generated set.
type Summary struct {
	Total          int          `json:"total"`
	Successes      int          `json:"successes"`
	SuccessRate    float64      `json:"success_rate"`
	MeanConfidence float64      `json:"mean_confidence"`
	MinConfidence  float64      `json:"min_confidence"`
	MaxConfidence  float64      `json:"max_confidence"`
	Images         []ImageScore `json:"images"`
}

// Scorer evaluates generated images against a trained network.
type Scorer struct {
	network             *classifier.Network
	featureSize         int
	confidenceThreshold float64
	concurrency         int
	logger              *slog.Logger
}

// Options configures scorer construction.
type Options struct {
	Network             *classifier.Network
	FeatureSize         int
	ConfidenceThreshold float64
	Concurrency         int
	Logger              *slog.Logger
}

// New validates options and builds a scorer.
func New(opts Options) (*Scorer, error) {
	if opts.Network == nil {
		return nil, services.Wrap(services.ErrConfiguration, "scoring", "new", "network is required", nil)
	}
	if opts.FeatureSize <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "scoring", "new",
			fmt.Sprintf("feature size must be positive, got %d", opts.FeatureSize), nil)
	}
	if opts.ConfidenceThreshold <= 0 || opts.ConfidenceThreshold > 1 {
		return nil, services.Wrap(services.ErrConfiguration, "scoring", "new",
			fmt.Sprintf("confidence threshold %g outside (0, 1]", opts.ConfidenceThreshold), nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scorer{
		network:             opts.Network,
		featureSize:         opts.FeatureSize,
		confidenceThreshold: opts.ConfidenceThreshold,
		concurrency:         opts.Concurrency,
		logger:              logging.NewComponentLogger(logger, "scoring"),
	}, nil
}

// ScoreDirectory scores every image in a generated-output directory.
// An empty directory is a missing-data failure, not an empty summary.
func (s *Scorer) ScoreDirectory(ctx context.Context, dir string) (*Summary, error) {
	paths, err := imaging.ListImages(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "scoring", "score", "list "+dir, err)
	}
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "scoring", "score",
			"no generated images in "+dir, nil)
	}
	return s.ScoreFiles(ctx, paths)
}

// ScoreFiles scores an explicit list of image files.
func (s *Scorer) ScoreFiles(ctx context.Context, paths []string) (*Summary, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "scoring", "score", "no images to score", nil)
	}

	features, err := imaging.FeatureBatch(ctx, paths, s.featureSize, s.concurrency)
	if err != nil {
		return nil, services.Wrap(services.ErrMissingData, "scoring", "score", "load images", err)
	}

	summary := &Summary{
		Total:         len(paths),
		MinConfidence: math.Inf(1),
		MaxConfidence: math.Inf(-1),
		Images:        make([]ImageScore, 0, len(paths)),
	}
	var confidenceSum float64

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prediction, err := s.network.Predict(features[i])
		if err != nil {
			return nil, fmt.Errorf("scoring: predict %s: %w", path, err)
		}
		confidence := float64(prediction)
		if math.IsNaN(confidence) || math.IsInf(confidence, 0) {
			return nil, services.Wrap(services.ErrNumericInstability, "scoring", "score",
				fmt.Sprintf("non-finite confidence for %s", path), nil)
		}

		success := confidence >= s.confidenceThreshold
		if success {
			summary.Successes++
		}
		confidenceSum += confidence
		if confidence < summary.MinConfidence {
			summary.MinConfidence = confidence
		}
		if confidence > summary.MaxConfidence {
			summary.MaxConfidence = confidence
		}
		summary.Images = append(summary.Images, ImageScore{
			Path:       path,
			Confidence: confidence,
			Success:    success,
		})

		s.logger.Debug("image scored",
			logging.String("image", path),
			logging.Float64("confidence", confidence),
			logging.Bool("success", success))
	}

	summary.SuccessRate = float64(summary.Successes) / float64(summary.Total)
	summary.MeanConfidence = confidenceSum / float64(summary.Total)
	return summary, nil
}
