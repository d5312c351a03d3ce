package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Segment stream-copies the first video stream of src into numbered files
// matching pattern (e.g. split/%04d.mkv), starting a new file at each cut.
// Cuts must be ascending and must not include frame 0. With no cuts the whole
// stream is copied to a single file named by firstName.
func (r *Runner) Segment(ctx context.Context, src string, cuts []int, pattern, firstName string) error {
	common := []string{
		"-loglevel", "error", "-y",
		"-i", src,
		"-map", "0:v:0",
		"-map_metadata", "-1",
		"-an", "-sn", "-dn",
		"-c", "copy",
		"-avoid_negative_ts", "1",
	}
	var args []string
	if len(cuts) == 0 {
		args = append(common, firstName)
	} else {
		args = append(common, "-f", "segment", "-segment_frames", JoinFrames(cuts), pattern)
	}
	if _, err := r.Run(ctx, args...); err != nil {
		return fmt.Errorf("split %s: %w", src, err)
	}
	return nil
}

// JoinFrames renders frame numbers as a comma-separated list.
func JoinFrames(frames []int) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}
