package services_test

import (
	"errors"
	"strings"
	"testing"

	"vouch/internal/queue"
	"vouch/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("boom")
	err := services.Wrap(services.ErrNumericInstability, "sampler", "step", "non-finite latent at step 12", cause)
	if !errors.Is(err, services.ErrNumericInstability) {
		t.Fatalf("expected marker to survive wrapping: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to survive wrapping: %v", err)
	}
	for _, want := range []string{"sampler", "step", "non-finite latent"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrMissingData, "dataset", "build", "no positive examples", nil)
	if !errors.Is(err, services.ErrMissingData) {
		t.Fatalf("expected missing data marker: %v", err)
	}
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want queue.Status
	}{
		{"threshold", services.Wrap(services.ErrThresholdNotMet, "workflow", "gate", "accuracy below gate", nil), queue.StatusReview},
		{"missing data", services.Wrap(services.ErrMissingData, "dataset", "build", "empty class", nil), queue.StatusReview},
		{"configuration", services.Wrap(services.ErrConfiguration, "config", "load", "bad value", nil), queue.StatusReview},
		{"model load", services.Wrap(services.ErrModelLoad, "models", "open", "bad onnx", nil), queue.StatusFailed},
		{"instability", services.Wrap(services.ErrNumericInstability, "sampler", "step", "nan", nil), queue.StatusFailed},
		{"plain", errors.New("unknown"), queue.StatusFailed},
	}
	for _, tc := range tests {
		if got := services.FailureStatus(tc.err); got != tc.want {
			t.Fatalf("%s: FailureStatus = %s, want %s", tc.name, got, tc.want)
		}
	}
}
