package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeEncoder()
	c.normalizeAudio()
	c.normalizeSplit()
	c.normalizeQuality()
	c.normalizeLogging()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.Source, err = expandPath(strings.TrimSpace(c.Paths.Source)); err != nil {
		return fmt.Errorf("paths.source: %w", err)
	}
	if c.Paths.Output, err = expandPath(strings.TrimSpace(c.Paths.Output)); err != nil {
		return fmt.Errorf("paths.output: %w", err)
	}
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = DefaultTempDir(c.Paths.Output)
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = defaultIfBlank(c.Tools.FFmpeg, defaultFFmpeg)
	c.Tools.FFprobe = defaultIfBlank(c.Tools.FFprobe, defaultFFprobe)
	c.Tools.Aomenc = defaultIfBlank(c.Tools.Aomenc, defaultAomenc)
	c.Tools.Vpxenc = defaultIfBlank(c.Tools.Vpxenc, defaultVpxenc)
}

func (c *Config) normalizeEncoder() {
	name := strings.ToLower(strings.TrimSpace(string(c.Encoder.Name)))
	switch name {
	case "":
		name = string(defaultEncoder)
	case "vpx", "vp9":
		name = string(EncoderVP9)
	case "vp8":
		name = string(EncoderVP8)
	case "aomenc", "av1":
		name = string(EncoderAOM)
	}
	c.Encoder.Name = EncoderName(name)
	c.Encoder.PixelFormat = strings.ToLower(defaultIfBlank(c.Encoder.PixelFormat, defaultPixelFormat))
	c.Encoder.ColorSpace = strings.ToLower(defaultIfBlank(c.Encoder.ColorSpace, defaultColorSpace))
	c.Encoder.ColorParams = strings.TrimSpace(c.Encoder.ColorParams)
	c.Encoder.Params = strings.TrimSpace(c.Encoder.Params)
	c.Encoder.FFmpegFilters = strings.TrimSpace(c.Encoder.FFmpegFilters)
	if c.Encoder.Passes == 0 {
		c.Encoder.Passes = defaultPasses
	}
	if c.Encoder.BitDepth == 0 {
		c.Encoder.BitDepth = defaultBitDepth
	}
}

func (c *Config) normalizeAudio() {
	mode := strings.ToLower(strings.TrimSpace(string(c.Audio.Mode)))
	if mode == "" {
		mode = string(AudioCopy)
	}
	c.Audio.Mode = AudioMode(mode)
	c.Audio.Params = strings.TrimSpace(c.Audio.Params)
}

func (c *Config) normalizeSplit() {
	strategy := strings.ToLower(strings.TrimSpace(string(c.Split.Strategy)))
	if strategy == "" {
		strategy = string(SplitKeyframeSafe)
	}
	c.Split.Strategy = SplitStrategy(strategy)
	c.Split.ScenesFile = strings.TrimSpace(c.Split.ScenesFile)
	if c.Split.ScenesFile != "" {
		if expanded, err := expandPath(c.Split.ScenesFile); err == nil {
			c.Split.ScenesFile = expanded
		}
	}
}

func (c *Config) normalizeQuality() {
	mode := strings.ToLower(strings.TrimSpace(string(c.Quality.Mode)))
	switch mode {
	case "":
		mode = string(QualityFixedCQ)
	case "cq":
		mode = string(QualityFixedCQ)
	case "vmaf", "target":
		mode = string(QualityTargetMetric)
	}
	c.Quality.Mode = QualityMode(mode)
	c.Quality.VMAFModel = strings.TrimSpace(c.Quality.VMAFModel)
	c.Quality.VMAFResolution = strings.ToLower(defaultIfBlank(c.Quality.VMAFResolution, defaultVMAFResolution))
	if c.Quality.Percentile == 0 {
		c.Quality.Percentile = defaultPercentile
	}
	if c.Quality.ProbeRate == 0 {
		c.Quality.ProbeRate = defaultProbeRate
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(defaultIfBlank(c.Logging.Format, defaultLogFormat))
	c.Logging.Level = strings.ToLower(defaultIfBlank(c.Logging.Level, defaultLogLevel))
}

func (c *Config) normalizeHistory() error {
	var err error
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func defaultIfBlank(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
