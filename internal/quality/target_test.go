package quality

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/planner"
	"qencode/internal/services"
	"qencode/internal/testsupport"
	"qencode/internal/workdir"
)

// stubFFmpeg creates outputs for reference encodes, emits a tiny y4m header
// for decodes, and writes a VMAF log scoring v_N.ivf as 120-N.
const stubFFmpeg = `
for a in "$@"; do last="$a"; done
case "$*" in
*libvmaf*)
	cq=$(echo "$*" | sed -n 's/.*v_\([0-9]*\)\.ivf.*/\1/p')
	log=$(echo "$*" | sed -n 's/.*log_path=\([^:]*\).*/\1/p')
	score=$((120 - cq))
	printf '{"frames":[{"frameNum":0,"metrics":{"vmaf":%s}},{"frameNum":1,"metrics":{"vmaf":%s}}]}' "$score" "$score" > "$log"
	;;
*yuv4mpegpipe*)
	printf 'YUV4MPEG2 W2 H2 F25:1 C420jpeg\n'
	;;
*)
	: > "$last"
	;;
esac
exit 0
`

const stubEncoder = `
cat > /dev/null
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then : > "$2"; fi
	shift
done
exit 0
`

func newTargetSearch(t *testing.T, ffmpegScript string) (*TargetSearch, planner.Chunk) {
	t.Helper()
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedTools(map[string]string{"ffmpeg": ffmpegScript, "aomenc": stubEncoder}),
		testsupport.WithMutation(func(c *config.Config) {
			c.Quality.Mode = config.QualityTargetMetric
			c.Quality.MinCQ = 20
			c.Quality.MaxCQ = 50
			c.Quality.Steps = 4
			c.Quality.Target = 94
		}),
	)
	layout := workdir.New(cfg.Paths.TempDir)
	if _, err := workdir.Prepare(layout, false, logging.NewNop()); err != nil {
		t.Fatal(err)
	}
	chunk := planner.Chunk{Name: "0000", SourcePath: layout.SourceChunk("0000")}
	if err := os.WriteFile(chunk.SourcePath, []byte("chunk"), 0o644); err != nil {
		t.Fatal(err)
	}
	ff := ffmpeg.New(cfg.Tools.FFmpeg, logging.NewNop())
	return NewTargetSearch(cfg, ff, layout, logging.NewNop()), chunk
}

func TestTargetSearchDecide(t *testing.T) {
	search, chunk := newTargetSearch(t, stubFFmpeg)
	d, err := search.Decide(context.Background(), chunk)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.CQ != 26 || d.Reason != "interpolated" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if len(d.Probes) != 4 {
		t.Fatalf("expected 4 probes, got %+v", d.Probes)
	}
	if _, err := os.Stat(filepath.Join(search.layout.ProbeDir(chunk.Name), "ref.mp4")); !os.IsNotExist(err) {
		t.Fatalf("probe dir should be removed after a search, stat err = %v", err)
	}
}

func TestTargetSearchMissingLibVMAFIsFatal(t *testing.T) {
	script := `
for a in "$@"; do last="$a"; done
case "$*" in
*libvmaf*)
	echo "[AVFilterGraph @ 0x1] No such filter: 'libvmaf'" >&2
	exit 1
	;;
*yuv4mpegpipe*)
	printf 'YUV4MPEG2 W2 H2 F25:1 C420jpeg\n'
	;;
*)
	: > "$last"
	;;
esac
exit 0
`
	search, chunk := newTargetSearch(t, script)
	_, err := search.Decide(context.Background(), chunk)
	if !errors.Is(err, ErrMetricUnavailable) {
		t.Fatalf("expected ErrMetricUnavailable, got %v", err)
	}
	if !services.IsFatal(err) {
		t.Fatalf("missing metric must abort the job: %v", err)
	}
}

func TestTargetSearchProbeFailureIsChunkScoped(t *testing.T) {
	script := `
for a in "$@"; do last="$a"; done
case "$*" in
*libvmaf*)
	echo "vmaf blew up" >&2
	exit 1
	;;
*yuv4mpegpipe*)
	printf 'YUV4MPEG2 W2 H2 F25:1 C420jpeg\n'
	;;
*)
	: > "$last"
	;;
esac
exit 0
`
	search, chunk := newTargetSearch(t, script)
	_, err := search.Decide(context.Background(), chunk)
	if !errors.Is(err, ErrProbeFailed) {
		t.Fatalf("expected ErrProbeFailed, got %v", err)
	}
	if services.IsFatal(err) {
		t.Fatalf("probe failure should not abort the job: %v", err)
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker: %v", err)
	}
}
