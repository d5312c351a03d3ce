package quality

import (
	"context"
	"errors"
	"log/slog"

	"qencode/internal/config"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/planner"
	"qencode/internal/workdir"
)

var (
	// ErrMetricUnavailable reports that the quality metric cannot be computed at
	// all, for example because ffmpeg lacks libvmaf.
	ErrMetricUnavailable = errors.New("quality metric unavailable")
	// ErrProbeFailed reports that a probe encode or its scoring failed.
	ErrProbeFailed = errors.New("quality probe failed")
)

// Probe is one measured point of the score curve.
type Probe struct {
	CQ    int
	Score float64
}

// Decision is the rate-control choice for one chunk.
type Decision struct {
	Mode config.QualityMode
	// CQ applies to fixed-cq and target-metric modes.
	CQ int
	// BitrateKbps applies to bitrate mode.
	BitrateKbps int
	// Brightness is the geometric mean luma when boost ran, else zero.
	Brightness float64
	// Probes lists the measurements a target search made, ascending by CQ.
	Probes []Probe
	// Predicted is the interpolated score at CQ for target searches.
	Predicted float64
	// Reason summarizes how the value was chosen (fixed, boost, early-high,
	// early-low, interpolated).
	Reason string
}

// Strategy decides the rate-control value for a chunk.
type Strategy interface {
	Decide(ctx context.Context, chunk planner.Chunk) (Decision, error)
}

// New returns the strategy selected by cfg.
func New(cfg *config.Config, ff *ffmpeg.Runner, layout workdir.Layout, logger *slog.Logger) Strategy {
	switch {
	case cfg.Quality.Mode == config.QualityTargetMetric:
		return NewTargetSearch(cfg, ff, layout, logger)
	case cfg.Boost.Enabled:
		return NewBoost(ff, cfg.Quality.CQ, cfg.Boost.Strength, cfg.Boost.Floor, logger)
	default:
		return Fixed{Mode: cfg.Quality.Mode, CQ: cfg.Quality.CQ, BitrateKbps: cfg.Quality.BitrateKbps}
	}
}

// Fixed returns the configured value for every chunk.
type Fixed struct {
	Mode        config.QualityMode
	CQ          int
	BitrateKbps int
}

func (f Fixed) Decide(context.Context, planner.Chunk) (Decision, error) {
	return Decision{Mode: f.Mode, CQ: f.CQ, BitrateKbps: f.BitrateKbps, Reason: "fixed"}, nil
}
