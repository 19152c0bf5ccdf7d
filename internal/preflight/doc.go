// Package preflight provides readiness checks for the model artifacts
// and filesystem paths a validation run depends on.
//
// The workflow manager calls RunAll before processing each run so a
// missing model or unwritable output directory fails fast instead of
// partway through sampling. The CLI also surfaces individual checks for
// status display.
package preflight
