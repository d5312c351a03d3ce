// Package planner decides where a source is cut into chunks and materializes
// the chunks with a stream-copy split.
//
// Cut candidates come from ffmpeg's scene-change score, optionally restricted
// to the container's keyframes, or from a fixed frame interval. The candidate
// list is then pruned by minimum distance, optionally reduced to a target
// chunk count, and capped on platforms with short command lines.
package planner
