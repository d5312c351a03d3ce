// Package preflight provides readiness checks run before a job touches the
// source: the source must be readable, the output and temp locations writable,
// and every required external binary resolvable.
//
// The pipeline calls Verify and aborts on any blocking failure, since a missing
// encoder discovered after an hour of scene detection wastes the whole run. The
// CLI "qencode deps" command uses the individual checks to display tool health.
package preflight
