// Package ffprobe wraps the ffprobe CLI to inspect sources before a job is
// planned.
//
// Inspect returns structured stream and format metadata. The helpers answer
// the questions the pipeline asks up front: is there a video stream, is there
// audio to carry over, what is the frame rate, and roughly how many frames
// should the planner expect.
package ffprobe
