// Package procgroup starts external tools in their own process groups so a
// cancelled job can take down every descendant an encoder or ffmpeg spawned,
// and connects a decoder to an encoder through an OS pipe.
package procgroup
