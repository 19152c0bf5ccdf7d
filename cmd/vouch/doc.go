// Package main hosts the vouch CLI entrypoint and command graph.
//
// The Cobra-based command tree drives identity validation runs, batch
// processing, reconstruction diagnostics, run-history maintenance, and
// configuration scaffolding. It centralizes configuration resolution,
// model loading, and structured logging setup so subcommands can focus
// on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
