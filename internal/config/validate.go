package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var resolutionPattern = regexp.MustCompile(`^[0-9]+x[0-9]+$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateSplit(); err != nil {
		return err
	}
	if err := c.validateQuality(); err != nil {
		return err
	}
	if err := c.validateBoost(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEncoder() error {
	switch c.Encoder.Name {
	case EncoderAOM, EncoderVP9, EncoderVP8:
	default:
		return fmt.Errorf("encoder.name must be one of aom, vpx-vp9, vpx-vp8 (got %q)", c.Encoder.Name)
	}
	if c.Encoder.Passes != 1 && c.Encoder.Passes != 2 {
		return errors.New("encoder.passes must be 1 or 2")
	}
	if c.Encoder.Threads < 0 {
		return errors.New("encoder.threads must be >= 0")
	}
	if c.Encoder.Speed < 0 || c.Encoder.Speed > 9 {
		return errors.New("encoder.speed must be between 0 and 9")
	}
	if c.Encoder.BitDepth != 8 && c.Encoder.BitDepth != 10 && c.Encoder.BitDepth != 12 {
		return errors.New("encoder.bit_depth must be 8, 10, or 12")
	}
	if c.Encoder.Name == EncoderVP8 && c.Encoder.BitDepth != 8 {
		return errors.New("encoder.bit_depth must be 8 for vpx-vp8")
	}
	if !strings.HasPrefix(c.Encoder.PixelFormat, "yuv4") {
		return fmt.Errorf("encoder.pixel_format must be a yuv 4:x:x format (got %q)", c.Encoder.PixelFormat)
	}
	switch c.Encoder.ColorSpace {
	case "unknown", "bt709", "bt601", "bt2020":
	case "custom":
		if c.Encoder.ColorParams == "" {
			return errors.New("encoder.color_params must be set when encoder.color_space is custom")
		}
	default:
		return fmt.Errorf("encoder.color_space must be one of unknown, bt709, bt601, bt2020, custom (got %q)", c.Encoder.ColorSpace)
	}
	if c.Encoder.KFMaxDist < 0 {
		return errors.New("encoder.kf_max_dist must be >= 0")
	}
	return nil
}

func (c *Config) validateAudio() error {
	switch c.Audio.Mode {
	case AudioCopy, AudioNone:
	case AudioOpus:
		if c.Audio.BitrateKbps <= 0 && c.Audio.Params == "" {
			return errors.New("audio.bitrate_kbps must be positive for opus audio")
		}
	default:
		return fmt.Errorf("audio.mode must be one of copy, opus, none (got %q)", c.Audio.Mode)
	}
	return nil
}

func (c *Config) validateSplit() error {
	switch c.Split.Strategy {
	case SplitContent, SplitKeyframeSafe:
		if c.Split.Threshold <= 0 || c.Split.Threshold > 100 {
			return errors.New("split.threshold must be between 0 (exclusive) and 100")
		}
	case SplitFixedInterval:
		if c.Split.IntervalFrames <= 0 {
			return errors.New("split.interval_frames must be positive for fixed-interval splitting")
		}
	case SplitNone:
	default:
		return fmt.Errorf("split.strategy must be one of content, keyframe-safe, fixed-interval, none (got %q)", c.Split.Strategy)
	}
	if c.Split.MinSplitDistance < 0 {
		return errors.New("split.min_split_distance must be >= 0")
	}
	return nil
}

func (c *Config) validateQuality() error {
	q := c.Quality
	switch q.Mode {
	case QualityFixedCQ:
		if q.CQ < 0 || q.CQ > 63 {
			return errors.New("quality.cq must be between 0 and 63")
		}
	case QualityBitrate:
		if q.BitrateKbps <= 0 {
			return errors.New("quality.bitrate_kbps must be positive for bitrate mode")
		}
	case QualityTargetMetric:
		if q.MinCQ < 0 || q.MaxCQ > 63 || q.MinCQ >= q.MaxCQ {
			return errors.New("quality.min_cq and quality.max_cq must satisfy 0 <= min_cq < max_cq <= 63")
		}
		if q.Target <= 0 || q.Target > 100 {
			return errors.New("quality.target must be between 0 (exclusive) and 100")
		}
		if q.Steps < 2 {
			return errors.New("quality.steps must be >= 2")
		}
		if q.Percentile <= 0 || q.Percentile > 100 {
			return errors.New("quality.percentile must be between 0 (exclusive) and 100")
		}
		if q.ProbeRate <= 0 {
			return errors.New("quality.probe_rate must be positive")
		}
		if !resolutionPattern.MatchString(q.VMAFResolution) {
			return fmt.Errorf("quality.vmaf_resolution must look like WIDTHxHEIGHT (got %q)", q.VMAFResolution)
		}
	default:
		return fmt.Errorf("quality.mode must be one of fixed-cq, bitrate, target-metric (got %q)", q.Mode)
	}
	return nil
}

func (c *Config) validateBoost() error {
	if !c.Boost.Enabled {
		return nil
	}
	if c.Quality.Mode != QualityFixedCQ {
		return errors.New("boost.enabled requires quality.mode = fixed-cq")
	}
	if c.Boost.Strength < 0 {
		return errors.New("boost.strength must be >= 0")
	}
	if c.Boost.Floor < 0 || c.Boost.Floor > c.Quality.CQ {
		return errors.New("boost.floor must be between 0 and quality.cq")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 0 {
		return errors.New("workers.count must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
