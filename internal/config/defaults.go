package config

const (
	defaultFFmpeg           = "ffmpeg"
	defaultFFprobe          = "ffprobe"
	defaultAomenc           = "aomenc"
	defaultVpxenc           = "vpxenc"
	defaultEncoder          = EncoderAOM
	defaultThreads          = 4
	defaultSpeed            = 4
	defaultPasses           = 2
	defaultBitDepth         = 8
	defaultPixelFormat      = "yuv420p"
	defaultColorSpace       = "unknown"
	defaultAudioBitrate     = 128
	defaultSplitThreshold   = 35
	defaultIntervalFrames   = 240
	defaultMinSplitDistance = 60
	defaultCQ               = 30
	defaultBitrateKbps      = 2000
	defaultMinCQ            = 20
	defaultMaxCQ            = 50
	defaultTarget           = 94
	defaultSteps            = 4
	defaultPercentile       = 25
	defaultProbeRate        = 4
	defaultVMAFResolution   = "1920x1080"
	defaultBoostStrength    = 15
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Tools: Tools{
			FFmpeg:  defaultFFmpeg,
			FFprobe: defaultFFprobe,
			Aomenc:  defaultAomenc,
			Vpxenc:  defaultVpxenc,
		},
		Encoder: Encoder{
			Name:        defaultEncoder,
			Threads:     defaultThreads,
			Speed:       defaultSpeed,
			Passes:      defaultPasses,
			BitDepth:    defaultBitDepth,
			PixelFormat: defaultPixelFormat,
			ColorSpace:  defaultColorSpace,
		},
		Audio: Audio{
			Mode:        AudioCopy,
			BitrateKbps: defaultAudioBitrate,
		},
		Split: Split{
			Strategy:         SplitKeyframeSafe,
			Threshold:        defaultSplitThreshold,
			IntervalFrames:   defaultIntervalFrames,
			MinSplitDistance: defaultMinSplitDistance,
		},
		Quality: Quality{
			Mode:           QualityFixedCQ,
			CQ:             defaultCQ,
			BitrateKbps:    defaultBitrateKbps,
			MinCQ:          defaultMinCQ,
			MaxCQ:          defaultMaxCQ,
			Target:         defaultTarget,
			Steps:          defaultSteps,
			Percentile:     defaultPercentile,
			ProbeRate:      defaultProbeRate,
			VMAFResolution: defaultVMAFResolution,
		},
		Boost: Boost{
			Strength: defaultBoostStrength,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Path: defaultHistoryPath(),
		},
	}
}
