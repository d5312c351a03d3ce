// Package main hosts the qencode CLI entrypoint and command graph.
//
// The Cobra command tree loads the TOML configuration, applies command-line
// overrides, and hands a validated config to the pipeline package. Inspection
// commands (status, history, deps, clean) read the temp directory, the history
// database, or the environment without starting a job.
//
// Keep this package lean: new behaviour belongs in the internal packages and
// is surfaced here through a dedicated command or flag.
package main
