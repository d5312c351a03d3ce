package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

var frameStatPattern = regexp.MustCompile(`frame=\s*([0-9]+)\s`)

// CountFrames returns the number of video frames in path by stream-copying
// the first video stream to the null muxer and reading the final stats line.
func (r *Runner) CountFrames(ctx context.Context, path string) (int, error) {
	out, err := r.Run(ctx, "-i", path, "-map", "0:v:0", "-c", "copy", "-f", "null", "-")
	if err != nil {
		return 0, fmt.Errorf("count frames in %s: %w", path, err)
	}
	frames, ok := ParseFrameCount(string(out.Stderr))
	if !ok {
		return 0, fmt.Errorf("count frames in %s: no frame statistics in ffmpeg output", path)
	}
	return frames, nil
}

// ParseFrameCount returns the last "frame=N" value in ffmpeg stats output.
func ParseFrameCount(output string) (int, bool) {
	matches := frameStatPattern.FindAllStringSubmatch(output+" ", -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return n, true
}
