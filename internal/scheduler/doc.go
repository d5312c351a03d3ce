// Package scheduler runs chunk encodes on a bounded pool of worker slots.
//
// Chunks are dispatched largest first so the longest encodes start early.
// Each slot owns an atomic frame counter; an aggregator ticks every 200ms,
// sums the counters, and forwards the increment to a progress sink. A
// cancellation request is polled by the same loop and cancels the shared
// context, which kills every child process group.
package scheduler
