// Package logging configures structured slog output for the pipeline.
// It provides a console handler that hoists the component attribute into
// the message prefix, a JSON handler for non-interactive use, context
// helpers that carry run metadata into log lines, and a sampler for
// progress logging inside long denoising and training loops.
package logging
