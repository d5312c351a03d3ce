// Package ledger persists which chunks have been encoded and verified, so an
// interrupted job can resume without redoing them.
//
// The ledger is a small JSON document, {"total": N, "done": {"0003": 240}},
// rewritten atomically on every completion. Writers serialize on an in-process
// mutex and a flock on a sibling lock file.
package ledger
