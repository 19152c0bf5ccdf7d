// Package services defines the shared error taxonomy and context annotations
// used across the validation pipeline.
//
// Stage implementations wrap failures with one of the sentinel markers
// (missing data, model load, numeric instability, threshold not met) via
// Wrap; the orchestrator maps a wrapped error to a terminal item status with
// FailureStatus at the identity-run boundary. Context helpers carry the run
// item id, stage name, identity id, and correlation id into structured logs.
package services
