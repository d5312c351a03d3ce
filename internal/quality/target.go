package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/planner"
	"qencode/internal/procgroup"
	"qencode/internal/services"
	"qencode/internal/workdir"
)

// Probe encodes use fixed fast presets; only the CQ varies.
const (
	aomProbeSpeed = 6
	vpxProbeSpeed = 9
)

// TargetSearch picks a per-chunk CQ that meets a VMAF target.
type TargetSearch struct {
	cfg    *config.Config
	ff     *ffmpeg.Runner
	layout workdir.Layout
	logger *slog.Logger
}

// NewTargetSearch constructs the target-metric strategy.
func NewTargetSearch(cfg *config.Config, ff *ffmpeg.Runner, layout workdir.Layout, logger *slog.Logger) *TargetSearch {
	return &TargetSearch{
		cfg:    cfg,
		ff:     ff,
		layout: layout,
		logger: logging.NewComponentLogger(logger, "target-search"),
	}
}

func (t *TargetSearch) Decide(ctx context.Context, chunk planner.Chunk) (Decision, error) {
	dir := t.layout.ProbeDir(chunk.Name)
	if err := workdir.ResetProbes(t.layout, chunk.Name); err != nil {
		return Decision{}, services.Wrap(services.ErrExternalTool, "quality", "prepare probes", chunk.Name, err)
	}

	reference := filepath.Join(dir, "ref.mp4")
	refOpts := ffmpeg.ReferenceOptions{Rate: t.cfg.Quality.ProbeRate, Extra: strings.Fields(t.cfg.Encoder.FFmpegFilters)}
	if err := t.ff.LosslessReference(ctx, chunk.SourcePath, reference, refOpts); err != nil {
		return Decision{}, t.classify(chunk, fmt.Errorf("%w: %w", ErrProbeFailed, err))
	}

	prober := &vmafProber{search: t, dir: dir, reference: reference}
	result, err := Search(ctx, prober, SearchParams{
		MinCQ:  t.cfg.Quality.MinCQ,
		MaxCQ:  t.cfg.Quality.MaxCQ,
		Steps:  t.cfg.Quality.Steps,
		Target: t.cfg.Quality.Target,
		Logger: t.logger.With(logging.Args(logging.Chunk(chunk.Name))...),
	})
	if err != nil {
		return Decision{}, t.classify(chunk, err)
	}

	t.logger.Info("target search finished",
		logging.Chunk(chunk.Name),
		logging.Int("cq", result.CQ),
		logging.Float64("predicted", math.Round(result.Predicted*1000)/1000),
		logging.String("reason", result.Reason),
		logging.String("probes", formatProbes(result.Probes)),
	)
	if err := os.RemoveAll(dir); err != nil {
		t.logger.Debug("failed to remove probe dir", logging.String("path", dir), logging.Error(err))
	}
	return Decision{
		Mode:      config.QualityTargetMetric,
		CQ:        result.CQ,
		Probes:    result.Probes,
		Predicted: result.Predicted,
		Reason:    result.Reason,
	}, nil
}

// classify tags search errors. An unavailable metric aborts the job; any
// other probe failure fails only this chunk.
func (t *TargetSearch) classify(chunk planner.Chunk, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCancelled, "quality", "target search", chunk.Name, err)
	case errors.Is(err, ErrMetricUnavailable):
		return services.Fatal("quality", "target search", err)
	default:
		return services.Wrap(services.ErrExternalTool, "quality", "target search", chunk.Name, err)
	}
}

type vmafProber struct {
	search    *TargetSearch
	dir       string
	reference string
}

func (p *vmafProber) Probe(ctx context.Context, cq int) (float64, error) {
	cfg := p.search.cfg
	encoded := filepath.Join(p.dir, fmt.Sprintf("v_%d.ivf", cq))
	decoder := ffmpeg.DecodeArgs(cfg.Tools.FFmpeg, p.reference, cfg.Encoder.PixelFormat, nil)
	encoder := ProbeArgs(cfg, cq, encoded)

	pipe, err := procgroup.NewPipe(ctx, decoder, encoder)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	if err := pipe.Run(nil); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: encode: %w", ErrProbeFailed, err)
	}

	logPath := filepath.Join(p.dir, fmt.Sprintf("v_%d.json", cq))
	opts := ffmpeg.VMAFOptions{
		Resolution: cfg.Quality.VMAFResolution,
		ModelPath:  cfg.Quality.VMAFModel,
		Threads:    cfg.Encoder.Threads,
	}
	if err := p.search.ff.VMAF(ctx, encoded, p.reference, logPath, opts); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if metricMissing(err) {
			return 0, fmt.Errorf("%w: %w", ErrMetricUnavailable, err)
		}
		return 0, fmt.Errorf("%w: score: %w", ErrProbeFailed, err)
	}

	frames, err := ReadVMAFLog(logPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}
	score := Percentile(frames, cfg.Quality.Percentile)
	if math.IsNaN(score) {
		return 0, fmt.Errorf("%w: no valid frame scores in %s", ErrProbeFailed, logPath)
	}
	score = math.Round(score*100) / 100
	p.search.logger.Debug("probe scored", logging.Int("cq", cq), logging.Float64("score", score))
	return score, nil
}

func metricMissing(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such filter") && strings.Contains(msg, "libvmaf")
}

// ProbeArgs returns the fast single-pass encoder argv for a quality probe.
func ProbeArgs(cfg *config.Config, cq int, output string) []string {
	threads := "--threads=" + strconv.Itoa(max(cfg.Encoder.Threads, 1))
	level := "--cq-level=" + strconv.Itoa(cq)
	args := []string{cfg.EncoderBinary()}
	switch cfg.Encoder.Name {
	case config.EncoderAOM:
		args = append(args, "-q", "--passes=1", threads, "--end-usage=q",
			"--cpu-used="+strconv.Itoa(aomProbeSpeed), level)
	default:
		codec := "vp9"
		if cfg.Encoder.Name == config.EncoderVP8 {
			codec = "vp8"
		}
		args = append(args, "--codec="+codec, "--passes=1", "--pass=1", threads, "--end-usage=q",
			"--cpu-used="+strconv.Itoa(vpxProbeSpeed), level)
	}
	if cfg.Encoder.BitDepth > 8 {
		depth := strconv.Itoa(cfg.Encoder.BitDepth)
		args = append(args, "--bit-depth="+depth, "--input-bit-depth="+depth)
		if cfg.Encoder.Name == config.EncoderVP9 {
			args = append(args, "--profile=2")
		}
	}
	return append(args, "-o", output, "-")
}

func formatProbes(probes []Probe) string {
	parts := make([]string, len(probes))
	for i, p := range probes {
		parts[i] = fmt.Sprintf("%d:%.2f", p.CQ, p.Score)
	}
	return strings.Join(parts, " ")
}
