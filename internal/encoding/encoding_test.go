package encoding

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/planner"
	"qencode/internal/quality"
	"qencode/internal/services"
	"qencode/internal/testsupport"
	"qencode/internal/workdir"
)

func TestVideoFlags(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		decision quality.Decision
		want     []string
		absent   []string
	}{
		{
			name:     "aom fixed cq",
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 30},
			want:     []string{"--threads=4", "--tile-columns=1", "--cpu-used=4", "--good", "--end-usage=q", "--cq-level=30", "--bit-depth=8", "--i420"},
			absent:   []string{"--lossless=1", "--codec=vp9", "--input-bit-depth=8"},
		},
		{
			name:     "aom lossless",
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 0},
			want:     []string{"--cq-level=0", "--lossless=1"},
		},
		{
			name: "vp9 ten bit",
			mutate: func(c *config.Config) {
				c.Encoder.Name = config.EncoderVP9
				c.Encoder.BitDepth = 10
				c.Encoder.PixelFormat = "yuv420p10le"
			},
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 28},
			want:     []string{"--codec=vp9", "--bit-depth=10", "--input-bit-depth=10", "--profile=2", "--color-space=unknown"},
		},
		{
			name:     "vp8 clamps cq",
			mutate:   func(c *config.Config) { c.Encoder.Name = config.EncoderVP8 },
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 0},
			want:     []string{"--codec=vp8", "--cq-level=4"},
			absent:   []string{"--lossless=1", "--bit-depth=8", "--tile-columns=1"},
		},
		{
			name:     "bitrate mode",
			decision: quality.Decision{Mode: config.QualityBitrate, BitrateKbps: 2500},
			want:     []string{"--end-usage=vbr", "--target-bitrate=2500"},
			absent:   []string{"--end-usage=q"},
		},
		{
			name: "realtime with color and params",
			mutate: func(c *config.Config) {
				c.Encoder.Realtime = true
				c.Encoder.ColorSpace = "bt2020"
				c.Encoder.KFMaxDist = 240
				c.Encoder.Params = "--enable-fwd-kf=1 --sharpness=2"
			},
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 30},
			want: []string{"--rt", "--kf-max-dist=240", "--color-primaries=bt2020",
				"--transfer-characteristics=smpte2084", "--matrix-coefficients=bt2020ncl", "--enable-fwd-kf=1", "--sharpness=2"},
			absent: []string{"--good"},
		},
		{
			name: "custom color",
			mutate: func(c *config.Config) {
				c.Encoder.ColorSpace = "custom"
				c.Encoder.ColorParams = "--color-primaries=bt470m"
			},
			decision: quality.Decision{Mode: config.QualityFixedCQ, CQ: 30},
			want:     []string{"--color-primaries=bt470m"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t)
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			flags, err := NewBuilder(cfg, workdir.New(cfg.Paths.TempDir)).VideoFlags(tt.decision)
			if err != nil {
				t.Fatalf("VideoFlags: %v", err)
			}
			for _, w := range tt.want {
				if !slices.Contains(flags, w) {
					t.Errorf("missing %s in %v", w, flags)
				}
			}
			for _, a := range tt.absent {
				if slices.Contains(flags, a) {
					t.Errorf("unexpected %s in %v", a, flags)
				}
			}
		})
	}
}

func TestBuildTwoPass(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	layout := workdir.New(cfg.Paths.TempDir)
	chunk := planner.Chunk{Name: "0002", SourcePath: layout.SourceChunk("0002"), EncodePath: layout.EncodedChunk("0002")}

	job, err := NewBuilder(cfg, layout).Build(chunk, quality.Decision{Mode: config.QualityFixedCQ, CQ: 30})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(job.Commands) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(job.Commands))
	}
	first, second := job.Commands[0], job.Commands[1]
	if first.Final(job) || !second.Final(job) {
		t.Fatal("only the second pass should be final")
	}
	stats := "--fpf=" + layout.StatsFile("0002")
	if !slices.Contains(first.Encoder, "--pass=1") || !slices.Contains(first.Encoder, stats) {
		t.Fatalf("first pass args: %v", first.Encoder)
	}
	if got := first.Encoder[len(first.Encoder)-3:]; !reflect.DeepEqual(got, []string{"-o", os.DevNull, "-"}) {
		t.Fatalf("first pass should discard output, got %v", got)
	}
	if got := second.Encoder[len(second.Encoder)-3:]; !reflect.DeepEqual(got, []string{"-o", chunk.EncodePath, "-"}) {
		t.Fatalf("second pass output: %v", got)
	}
	if second.Decoder[0] != cfg.Tools.FFmpeg || !slices.Contains(second.Decoder, chunk.SourcePath) {
		t.Fatalf("decoder args: %v", second.Decoder)
	}
}

func TestBuildSinglePass(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMutation(func(c *config.Config) { c.Encoder.Passes = 1 }))
	layout := workdir.New(cfg.Paths.TempDir)
	job, err := NewBuilder(cfg, layout).Build(planner.Chunk{Name: "0000"}, quality.Decision{Mode: config.QualityFixedCQ, CQ: 30})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(job.Commands) != 1 || job.Commands[0].Encoder[1] != "--passes=1" {
		t.Fatalf("unexpected commands: %+v", job.Commands)
	}
	if !slices.Contains(job.Commands[0].Encoder, layout.EncodedChunk("0000")) {
		t.Fatalf("expected default encode path in %v", job.Commands[0].Encoder)
	}
}

func TestDefaultParser(t *testing.T) {
	tests := []struct {
		line   string
		want   int
		wantOK bool
	}{
		{"Pass 2/2 frame   48/47    12345B   2102b/f   52566b/s", 47, true},
		{"Pass 1/1 frame 10/9 ... frame 12/11", 11, true},
		{"Pass 1/2 frame    0/0  ", 0, true},
		{"Codec: AOMedia Project AV1 Encoder", 0, false},
	}
	for _, tt := range tests {
		got, ok := DefaultParser.ParseProgress(tt.line)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseProgress(%q) = %d,%v want %d,%v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

type fakeCounter struct {
	frames int
	err    error
}

func (f fakeCounter) CountFrames(context.Context, string) (int, error) { return f.frames, f.err }

type fakeRecorder struct {
	mu   sync.Mutex
	done map[string]int
}

func (r *fakeRecorder) RecordComplete(name string, frames int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		r.done = map[string]int{}
	}
	r.done[name] = frames
	return nil
}

const decoderScript = `printf 'YUV4MPEG2 W2 H2 F25:1 C420jpeg\n'
exit 0
`

// encoderScript drains stdin, prints two status lines, and writes a byte to -o.
const encoderScript = `cat > /dev/null
printf 'Pass 1/1 frame   5/4 \r' >&2
printf 'Pass 1/1 frame  11/10 \r' >&2
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then printf x > "$2"; fi
	shift
done
exit 0
`

func newEncodeJob(t *testing.T, encoder string, mutate func(*config.Config)) (*config.Config, Job) {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedTools(map[string]string{"ffmpeg": decoderScript, "aomenc": encoder}),
		testsupport.WithMutation(func(c *config.Config) {
			c.Encoder.Passes = 1
			if mutate != nil {
				mutate(c)
			}
		}),
	)
	layout := workdir.New(cfg.Paths.TempDir)
	if _, err := workdir.Prepare(layout, false, logging.NewNop()); err != nil {
		t.Fatal(err)
	}
	chunk := planner.Chunk{
		Name:         "0001",
		SourcePath:   layout.SourceChunk("0001"),
		EncodePath:   layout.EncodedChunk("0001"),
		SourceFrames: 10,
	}
	testsupport.WriteFile(t, chunk.SourcePath, 64)
	job, err := NewBuilder(cfg, layout).Build(chunk, quality.Decision{Mode: config.QualityFixedCQ, CQ: 30})
	if err != nil {
		t.Fatal(err)
	}
	return cfg, job
}

func TestEncodeRecordsVerifiedChunk(t *testing.T) {
	cfg, job := newEncodeJob(t, encoderScript, nil)
	rec := &fakeRecorder{}
	enc := NewEncoder(cfg, fakeCounter{frames: 10}, rec, nil, logging.NewNop())

	var seen []int
	res, err := enc.Encode(context.Background(), 0, job, func(n int) { seen = append(seen, n) })
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !res.Verified || res.EncodedFrames != 10 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.done["0001"] != 10 {
		t.Fatalf("ledger not updated: %v", rec.done)
	}
	if !reflect.DeepEqual(seen, []int{4, 10, 10}) {
		t.Fatalf("progress = %v", seen)
	}
}

func TestEncodeMismatchIsNotRecorded(t *testing.T) {
	cfg, job := newEncodeJob(t, encoderScript, nil)
	rec := &fakeRecorder{}
	enc := NewEncoder(cfg, fakeCounter{frames: 9}, rec, nil, logging.NewNop())

	res, err := enc.Encode(context.Background(), 1, job, nil)
	if err != nil {
		t.Fatalf("mismatch should not be an error: %v", err)
	}
	if res.Verified {
		t.Fatal("mismatched chunk reported as verified")
	}
	if _, ok := rec.done["0001"]; ok {
		t.Fatal("mismatched chunk must not be recorded")
	}
}

func TestEncodeNoCheckTrustsSourceCount(t *testing.T) {
	cfg, job := newEncodeJob(t, encoderScript, func(c *config.Config) { c.Workers.NoCheck = true })
	rec := &fakeRecorder{}
	enc := NewEncoder(cfg, fakeCounter{err: errors.New("must not be called")}, rec, nil, logging.NewNop())

	res, err := enc.Encode(context.Background(), 0, job, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !res.Verified || rec.done["0001"] != 10 {
		t.Fatalf("expected recorded chunk, got %+v %v", res, rec.done)
	}
}

func TestEncodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		counter fakeCounter
		want    string
	}{
		{"encoder crash", "cat > /dev/null\necho 'segfault' >&2\nexit 139\n", fakeCounter{frames: 10}, "pass 1"},
		{"no output", "cat > /dev/null\nexit 0\n", fakeCounter{frames: 10}, "no output"},
		{"zero frames", encoderScript, fakeCounter{frames: 0}, "no frames"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, job := newEncodeJob(t, tt.script, nil)
			rec := &fakeRecorder{}
			_, err := NewEncoder(cfg, tt.counter, rec, nil, logging.NewNop()).Encode(context.Background(), 0, job, nil)
			if !errors.Is(err, services.ErrExternalTool) {
				t.Fatalf("expected external tool error, got %v", err)
			}
			if services.IsFatal(err) {
				t.Fatalf("chunk failure must not be fatal: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
			if len(rec.done) != 0 {
				t.Fatalf("failed chunk recorded: %v", rec.done)
			}
		})
	}
}

func TestEncodeCancelled(t *testing.T) {
	cfg, job := newEncodeJob(t, "cat > /dev/null\nsleep 30\n", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEncoder(cfg, fakeCounter{frames: 10}, &fakeRecorder{}, nil, logging.NewNop()).Encode(ctx, 0, job, nil)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(job.Chunk.EncodePath), "0001.ivf")); statErr == nil {
		t.Fatal("cancelled encode left output behind")
	}
}
