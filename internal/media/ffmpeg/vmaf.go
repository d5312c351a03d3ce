package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ReferenceOptions controls the lossless reference probe.
type ReferenceOptions struct {
	// Rate resamples the probe to this many frames per second. Zero keeps the source rate.
	Rate int
	// Extra carries decode-side filters applied before encoding.
	Extra []string
}

// LosslessReference encodes src with libx264 at -crf 0 into dst. Quality
// probes are encoded from and scored against this file.
func (r *Runner) LosslessReference(ctx context.Context, src, dst string, opts ReferenceOptions) error {
	args := []string{"-loglevel", "error", "-y", "-i", src, "-map", "0:v:0"}
	if opts.Rate > 0 {
		args = append(args, "-r", strconv.Itoa(opts.Rate))
	}
	args = append(args, "-an")
	args = append(args, opts.Extra...)
	args = append(args, "-c:v", "libx264", "-crf", "0", dst)
	if _, err := r.Run(ctx, args...); err != nil {
		return fmt.Errorf("encode reference probe %s: %w", dst, err)
	}
	return nil
}

// VMAFOptions controls scoring.
type VMAFOptions struct {
	// Resolution both inputs are scaled to, as WIDTHxHEIGHT.
	Resolution string
	// ModelPath selects a custom libvmaf model. Empty uses the built-in default.
	ModelPath string
	Threads   int
}

// VMAF scores distorted against reference and writes per-frame results as
// JSON to logPath.
func (r *Runner) VMAF(ctx context.Context, distorted, reference, logPath string, opts VMAFOptions) error {
	out, err := r.Run(ctx,
		"-loglevel", "error",
		"-i", distorted,
		"-i", reference,
		"-filter_complex", VMAFFilter(logPath, opts),
		"-f", "null", "-",
	)
	if err != nil {
		return fmt.Errorf("score %s: %w", distorted, err)
	}
	if msg := strings.TrimSpace(string(out.Stderr)); strings.Contains(strings.ToLower(msg), "error") {
		return fmt.Errorf("score %s: %s", distorted, lastLines(msg, 3))
	}
	return nil
}

// VMAFFilter builds the filter graph that scales both inputs and runs libvmaf.
func VMAFFilter(logPath string, opts VMAFOptions) string {
	res := strings.ReplaceAll(strings.TrimSpace(opts.Resolution), "x", ":")
	if res == "" {
		res = "1920:1080"
	}
	scale := "scale=" + res + ":flags=spline:force_original_aspect_ratio=decrease"
	vmaf := "libvmaf=log_fmt=json:log_path=" + escapeFilterValue(logPath)
	if opts.ModelPath != "" {
		vmaf += ":model=path=" + escapeFilterValue(opts.ModelPath)
	}
	if opts.Threads > 0 {
		vmaf += ":n_threads=" + strconv.Itoa(opts.Threads)
	}
	return "[0:v]" + scale + "[distorted];[1:v]" + scale + "[ref];[distorted][ref]" + vmaf
}

func escapeFilterValue(v string) string {
	replacer := strings.NewReplacer(`\`, `\\\\`, `:`, `\\:`, `'`, `\\\'`, `,`, `\,`, `;`, `\;`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(v)
}
