// Package services defines the error markers and context helpers shared by
// every qencode stage.
//
// Key responsibilities:
//   - Context helpers that stamp the job id, stage name, and chunk name for
//     logging.
//   - Structured error markers plus the Wrap helper, and Outcome, which maps a
//     terminal job error onto the status recorded in job history.
//
// A fatal error aborts the whole job. Anything else surfaces as a per-chunk
// failure that a later resume can retry.
package services
