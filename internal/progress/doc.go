// Package progress delivers job progress to observers.
//
// The pipeline and worker pool emit events through the Sink interface: a task
// is announced with NewTask, switched to frame counting with StartEncode, fed
// FrameDelta increments, and closed with Finished. Console renders a live line
// on terminals, Log writes sampled records through slog, and Multi fans events
// out to several sinks.
package progress
