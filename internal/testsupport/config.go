package testsupport

import (
	"path/filepath"
	"testing"

	"qencode/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config rooted in a per-test temp directory. The
// source, output, and temp dir point inside it; history is disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.Source = filepath.Join(base, "in", "source.mkv")
	cfgVal.Paths.Output = filepath.Join(base, "out", "result.mkv")
	cfgVal.Paths.TempDir = filepath.Join(base, "work")
	cfgVal.History.Path = ""
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStubbedTools writes stub ffmpeg, ffprobe, aomenc, and vpxenc scripts into
// the config's bin directory and points the tool paths at them. Each stub
// exits 0 unless a body is supplied via scripts.
func WithStubbedTools(scripts map[string]string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		body := func(name string) string {
			if s, ok := scripts[name]; ok {
				return s
			}
			return "exit 0\n"
		}
		b.cfg.Tools.FFmpeg = StubBinary(b.t, binDir, "ffmpeg", body("ffmpeg"))
		b.cfg.Tools.FFprobe = StubBinary(b.t, binDir, "ffprobe", body("ffprobe"))
		b.cfg.Tools.Aomenc = StubBinary(b.t, binDir, "aomenc", body("aomenc"))
		b.cfg.Tools.Vpxenc = StubBinary(b.t, binDir, "vpxenc", body("vpxenc"))
	}
}

// WithMutation applies fn to the config under construction.
func WithMutation(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.TempDir)
}
