// Package pipeline runs one encoding job end to end.
//
// A Job walks a fixed sequence of stages: preflight, temp dir lock and
// preparation, planning and splitting (skipped when resuming over an existing
// split), audio extraction, ledger load, the encode pool, a completeness
// check against the ledger, assembly, and cleanup. Each stage is logged with
// start/complete/failure events, timed into metrics, and announced to the
// progress sink. The run is recorded in the history store when one is
// configured.
package pipeline
