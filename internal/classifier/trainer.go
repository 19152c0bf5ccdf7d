package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"vouch/internal/dataset"
	"vouch/internal/logging"
	"vouch/internal/services"
)

// EpochStats records one epoch of training.
type EpochStats struct {
	Epoch         int           `json:"epoch"`
	TrainLoss     float64       `json:"train_loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValLoss       float64       `json:"val_loss"`
	ValAccuracy   float64       `json:"val_accuracy"`
	Duration      time.Duration `json:"duration"`
}

// Result is the outcome of a training run: the network holds the
// final-epoch weights, and History covers every epoch so callers can
// gate on the best validation accuracy seen.
type Result struct {
	Network *Network     `json:"network"`
	History []EpochStats `json:"history"`
}

// BestValAccuracy returns the highest validation accuracy in a history.
func BestValAccuracy(history []EpochStats) float64 {
	var best float64
	for _, epoch := range history {
		if epoch.ValAccuracy > best {
			best = epoch.ValAccuracy
		}
	}
	return best
}

// TrainerOptions configures a training run.
type TrainerOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	Seed         int64
	Logger       *slog.Logger
}

// Trainer runs mini-batch Adam training over a labeled dataset.
type Trainer struct {
	opts   TrainerOptions
	logger *slog.Logger
}

// NewTrainer validates options and builds a trainer.
func NewTrainer(opts TrainerOptions) (*Trainer, error) {
	if opts.Epochs <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "trainer",
			fmt.Sprintf("epochs must be positive, got %d", opts.Epochs), nil)
	}
	if opts.BatchSize <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "trainer",
			fmt.Sprintf("batch size must be positive, got %d", opts.BatchSize), nil)
	}
	if opts.LearningRate <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "classifier", "trainer",
			fmt.Sprintf("learning rate must be positive, got %g", opts.LearningRate), nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Trainer{opts: opts, logger: logging.NewComponentLogger(logger, "classifier")}, nil
}

// Train fits a fresh network on the train split and evaluates each
// epoch against the validation split. Non-finite losses abort the run.
func (t *Trainer) Train(ctx context.Context, train, val []dataset.Example) (*Result, error) {
	if len(train) == 0 || len(val) == 0 {
		return nil, services.Wrap(services.ErrMissingData, "classifier", "train",
			fmt.Sprintf("need non-empty splits, got %d train / %d val", len(train), len(val)), nil)
	}

	network := NewNetwork(len(train[0].Features), t.opts.Seed)
	adam := newAdamState(network, t.opts.LearningRate)
	grads := newGradients(network)
	rng := rand.New(rand.NewSource(t.opts.Seed + 1))

	order := make([]int, len(train))
	for i := range order {
		order[i] = i
	}

	history := make([]EpochStats, 0, t.opts.Epochs)
	progress := logging.NewProgressSampler(t.opts.Epochs, 10)

	for epoch := 0; epoch < t.opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()

		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var lossSum float64
		var correct int
		for offset := 0; offset < len(order); offset += t.opts.BatchSize {
			end := offset + t.opts.BatchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[offset:end]

			grads.zero()
			for _, idx := range batch {
				example := train[idx]
				prediction := network.accumulate(grads, example.Features, example.Label)
				lossSum += bceLoss(prediction, example.Label)
				if predictionMatches(prediction, example.Label) {
					correct++
				}
			}
			grads.scale(1 / float32(len(batch)))
			adam.apply(network, grads)
		}

		trainLoss := lossSum / float64(len(train))
		trainAcc := float64(correct) / float64(len(train))
		valLoss, valAcc, err := Evaluate(network, val)
		if err != nil {
			return nil, err
		}

		if !isFinite(trainLoss) || !isFinite(valLoss) {
			return nil, services.Wrap(services.ErrNumericInstability, "classifier", "train",
				fmt.Sprintf("non-finite loss at epoch %d (train %v, val %v)", epoch, trainLoss, valLoss), nil)
		}

		stats := EpochStats{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			TrainAccuracy: trainAcc,
			ValLoss:       valLoss,
			ValAccuracy:   valAcc,
			Duration:      time.Since(start),
		}
		history = append(history, stats)

		if progress.ShouldLog(epoch) {
			t.logger.Debug("epoch complete",
				logging.Int("epoch", epoch+1),
				logging.Int("total_epochs", t.opts.Epochs),
				logging.Float64("train_loss", trainLoss),
				logging.Float64("val_accuracy", valAcc))
		}
	}

	return &Result{Network: network, History: history}, nil
}

// Evaluate computes loss and accuracy of a network over examples.
func Evaluate(network *Network, examples []dataset.Example) (loss, accuracy float64, err error) {
	if len(examples) == 0 {
		return 0, 0, services.Wrap(services.ErrMissingData, "classifier", "evaluate", "no examples", nil)
	}
	var lossSum float64
	var correct int
	for _, example := range examples {
		prediction, err := network.Predict(example.Features)
		if err != nil {
			return 0, 0, err
		}
		lossSum += bceLoss(prediction, example.Label)
		if predictionMatches(prediction, example.Label) {
			correct++
		}
	}
	return lossSum / float64(len(examples)), float64(correct) / float64(len(examples)), nil
}

func predictionMatches(prediction, label float32) bool {
	return (prediction >= 0.5) == (label >= 0.5)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
