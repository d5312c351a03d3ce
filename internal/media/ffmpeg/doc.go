// Package ffmpeg builds and runs the ffmpeg invocations a job needs outside
// the encoder pipe: frame counting, scene and keyframe analysis, brightness
// sampling, stream-copy segmenting, audio extraction, lossless reference
// probes, VMAF scoring, and concatenation.
//
// Every call goes through Runner, which starts ffmpeg in its own process group
// so a cancelled job leaves nothing behind.
package ffmpeg
