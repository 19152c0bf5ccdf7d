// Package config loads, normalizes, and validates the TOML configuration.
//
// Load flows defaults → decode → normalize (path expansion, profile overlay)
// → Validate. Validation rejects configurations the pipeline cannot run with:
// negative guidance, non-positive epoch or step counts, thresholds outside
// (0, 1], inference steps exceeding the training timestep range.
package config
