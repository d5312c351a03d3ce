package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// EncoderName identifies the external encoder binary and codec.
type EncoderName string

const (
	EncoderAOM EncoderName = "aom"
	EncoderVP9 EncoderName = "vpx-vp9"
	EncoderVP8 EncoderName = "vpx-vp8"
)

// IsVPX reports whether the encoder is driven through vpxenc.
func (e EncoderName) IsVPX() bool {
	return e == EncoderVP9 || e == EncoderVP8
}

// SplitStrategy selects how ChunkPlanner finds cut points.
type SplitStrategy string

const (
	SplitContent       SplitStrategy = "content"
	SplitKeyframeSafe  SplitStrategy = "keyframe-safe"
	SplitFixedInterval SplitStrategy = "fixed-interval"
	SplitNone          SplitStrategy = "none"
)

// QualityMode selects the rate-control variant.
type QualityMode string

const (
	QualityFixedCQ      QualityMode = "fixed-cq"
	QualityBitrate      QualityMode = "bitrate"
	QualityTargetMetric QualityMode = "target-metric"
)

// AudioMode selects how the source audio track is carried into the output.
type AudioMode string

const (
	AudioCopy AudioMode = "copy"
	AudioOpus AudioMode = "opus"
	AudioNone AudioMode = "none"
)

// Paths contains the job's input, output, and working locations.
type Paths struct {
	Source  string `toml:"source"`
	Output  string `toml:"output"`
	TempDir string `toml:"temp_dir"`
}

// Tools names the external binaries. Bare names are resolved from PATH.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Aomenc  string `toml:"aomenc"`
	Vpxenc  string `toml:"vpxenc"`
}

// Encoder contains the per-encoder parameters used to build chunk commands.
type Encoder struct {
	Name          EncoderName `toml:"name"`
	Threads       int         `toml:"threads"`
	Speed         int         `toml:"speed"`
	Realtime      bool        `toml:"realtime"`
	Passes        int         `toml:"passes"`
	BitDepth      int         `toml:"bit_depth"`
	PixelFormat   string      `toml:"pixel_format"`
	ColorSpace    string      `toml:"color_space"`
	ColorParams   string      `toml:"color_params"`
	KFMaxDist     int         `toml:"kf_max_dist"`
	Params        string      `toml:"params"`
	FFmpegFilters string      `toml:"ffmpeg_filters"`
}

// Audio contains audio extraction settings.
type Audio struct {
	Mode        AudioMode `toml:"mode"`
	BitrateKbps int       `toml:"bitrate_kbps"`
	Params      string    `toml:"params"`
}

// Split contains ChunkPlanner settings.
type Split struct {
	Strategy         SplitStrategy `toml:"strategy"`
	Threshold        float64       `toml:"threshold"`
	IntervalFrames   int           `toml:"interval_frames"`
	MinSplitDistance int           `toml:"min_split_distance"`
	MatchWorkers     bool          `toml:"match_workers"`
	// Unsafe keeps content cuts that do not land on a source keyframe.
	Unsafe     bool   `toml:"unsafe"`
	ScenesFile string `toml:"scenes_file"`
}

// Quality contains rate-control and target-metric search settings.
type Quality struct {
	Mode           QualityMode `toml:"mode"`
	CQ             int         `toml:"cq"`
	BitrateKbps    int         `toml:"bitrate_kbps"`
	MinCQ          int         `toml:"min_cq"`
	MaxCQ          int         `toml:"max_cq"`
	Target         float64     `toml:"target"`
	Steps          int         `toml:"steps"`
	Percentile     float64     `toml:"percentile"`
	ProbeRate      int         `toml:"probe_rate"`
	VMAFModel      string      `toml:"vmaf_model"`
	VMAFResolution string      `toml:"vmaf_resolution"`
}

// Boost contains brightness-based CQ boost settings.
type Boost struct {
	Enabled  bool `toml:"enabled"`
	Strength int  `toml:"strength"`
	Floor    int  `toml:"floor"`
}

// Workers contains scheduling and resume settings.
type Workers struct {
	Count    int  `toml:"count"`
	Resume   bool `toml:"resume"`
	KeepTemp bool `toml:"keep_temp"`
	NoCheck  bool `toml:"no_check"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics contains the optional Prometheus scrape endpoint.
type Metrics struct {
	Listen string `toml:"listen"`
}

// History contains the SQLite job history location. An empty path disables history.
type History struct {
	Path string `toml:"path"`
}

// Config encapsulates one encoding job.
//
// Configuration sections by subsystem:
//   - Paths: source, output and temp directory
//   - Tools: external binary names
//   - Encoder: encoder identity and command flags
//   - Audio: audio extraction
//   - Split: chunk planning
//   - Quality: rate control and target-metric search
//   - Boost: brightness boost
//   - Workers: worker count, resume, temp retention, integrity checks
//   - Logging, Metrics, History: ambient services
type Config struct {
	Paths   Paths   `toml:"paths"`
	Tools   Tools   `toml:"tools"`
	Encoder Encoder `toml:"encoder"`
	Audio   Audio   `toml:"audio"`
	Split   Split   `toml:"split"`
	Quality Quality `toml:"quality"`
	Boost   Boost   `toml:"boost"`
	Workers Workers `toml:"workers"`
	Logging Logging `toml:"logging"`
	Metrics Metrics `toml:"metrics"`
	History History `toml:"history"`
}

// Override mutates a decoded config before normalization. Command-line flags
// are applied through overrides so they receive the same normalization and
// validation as file values.
type Override func(*Config)

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/qencode/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string, overrides ...Override) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	for _, override := range overrides {
		if override != nil {
			override(&cfg)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("qencode.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// RequireMedia reports an error unless both the source and output paths are set.
// Commands that only inspect an existing temp directory skip this check.
func (c *Config) RequireMedia() error {
	if strings.TrimSpace(c.Paths.Source) == "" {
		return errors.New("paths.source is required")
	}
	if strings.TrimSpace(c.Paths.Output) == "" {
		return errors.New("paths.output is required")
	}
	if c.Paths.Source == c.Paths.Output {
		return errors.New("paths.output must differ from paths.source")
	}
	return nil
}

// EncoderBinary returns the binary driving the configured encoder.
func (c *Config) EncoderBinary() string {
	if c.Encoder.Name.IsVPX() {
		return c.Tools.Vpxenc
	}
	return c.Tools.Aomenc
}

// TwoPass reports whether chunks are encoded with a statistics pass first.
func (c *Config) TwoPass() bool {
	return c.Encoder.Passes == 2
}

// LogPath returns the job log file inside the temp directory.
func (c *Config) LogPath() string {
	if c.Paths.TempDir == "" {
		return ""
	}
	return filepath.Join(c.Paths.TempDir, "log.log")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// DefaultTempDir derives the working directory used when paths.temp_dir is
// unset: a sibling of the output named temp_<output file name>. Quotes are
// replaced because the directory name ends up inside ffmpeg concat lists.
func DefaultTempDir(output string) string {
	if strings.TrimSpace(output) == "" {
		return ""
	}
	dir := filepath.Dir(output)
	name := strings.ReplaceAll("temp_"+filepath.Base(output), "'", "_")
	return filepath.Join(dir, name)
}

func defaultHistoryPath() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "qencode", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.local/state/qencode/history.db"
	}
	return filepath.Join(home, ".local", "state", "qencode", "history.db")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
