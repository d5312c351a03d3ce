package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrConcatOutput reports that the concat run printed to its error stream.
// ffmpeg is silent at -loglevel error when concatenation succeeds.
var ErrConcatOutput = errors.New("concat reported errors")

// Concat joins the files listed in listPath (ffmpeg concat demuxer syntax)
// into out, muxing audio from audioPath when it is non-empty.
func (r *Runner) Concat(ctx context.Context, listPath, audioPath, out string) error {
	args := []string{"-loglevel", "error", "-y", "-f", "concat", "-safe", "0", "-i", listPath}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args, "-map", "0:v")
	if audioPath != "" {
		args = append(args, "-map", "1:a")
	}
	args = append(args, "-c", "copy", out)

	result, err := r.Run(ctx, args...)
	if err != nil {
		return fmt.Errorf("concatenate into %s: %w", out, err)
	}
	if msg := strings.TrimSpace(string(result.Stderr)); msg != "" {
		return fmt.Errorf("concatenate into %s: %w: %s", out, ErrConcatOutput, lastLines(msg, 5))
	}
	return nil
}
