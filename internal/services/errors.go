package services

import (
	"errors"
	"fmt"
	"strings"

	"vouch/internal/queue"
)

var (
	// ErrMissingData marks failures caused by an absent identity directory or
	// an empty example class. The affected identity run aborts; other
	// identities in a batch are unaffected.
	ErrMissingData = errors.New("missing data")
	// ErrModelLoad marks failures to load one of the pretrained model
	// artifacts or a tensor shape mismatch at load time. Generation is
	// skipped; scoring over pre-existing images may still proceed.
	ErrModelLoad = errors.New("model load error")
	// ErrNumericInstability marks non-finite values produced during sampling
	// or loss computation. Fatal to the current sample, never retried.
	ErrNumericInstability = errors.New("numeric instability")
	// ErrThresholdNotMet marks a negative validation verdict: classifier
	// accuracy or generation metrics below the configured gates. Not a crash;
	// the result is still fully reported.
	ErrThresholdNotMet = errors.New("threshold not met")

	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later status classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureStatus maps a stage error to the queue status the orchestrator
// should persist after the stage fails. Threshold misses and missing data
// land in review rather than failed: they describe the inputs or the model,
// not a fault in the run itself.
func FailureStatus(err error) queue.Status {
	switch {
	case errors.Is(err, ErrThresholdNotMet), errors.Is(err, ErrMissingData), errors.Is(err, ErrConfiguration):
		return queue.StatusReview
	default:
		return queue.StatusFailed
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
