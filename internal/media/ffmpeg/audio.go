package ffmpeg

import (
	"context"
	"fmt"
)

// ExtractAudio writes every audio stream of src to dst using codecArgs
// (for example "-c:a copy").
func (r *Runner) ExtractAudio(ctx context.Context, src, dst string, codecArgs []string) error {
	args := []string{"-loglevel", "error", "-y", "-i", src, "-vn", "-sn", "-dn", "-map", "0:a"}
	args = append(args, codecArgs...)
	args = append(args, dst)
	if _, err := r.Run(ctx, args...); err != nil {
		return fmt.Errorf("extract audio from %s: %w", src, err)
	}
	return nil
}
