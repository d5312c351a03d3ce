// Package logging assembles structured slog loggers and formatting helpers used
// across qencode.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so pipeline code can tag log lines with the
// job id, chunk name, worker slot, and stage. A job logs to the terminal and to
// <temp>/log.log at the same time; the file always receives JSON so a resumed
// run can be diagnosed after the fact.
package logging
