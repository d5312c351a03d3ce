package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// selectDebugPattern matches the per-frame evaluation line the select filter
// logs at debug level, e.g.
//
//	[Parsed_select_0 @ 0x5581] n:250.000000 pts:250.000000 t:10.000000 key:1 interlace_type:P pict_type:I scene:0.51 -> select:0.510000 select_out:0
var selectDebugPattern = regexp.MustCompile(`n:(\d+)\.\d+ pts:\S+ t:\S+ key:([01]).*?-> select:([0-9.]+)`)

// Analysis is the result of one decode pass over a source.
type Analysis struct {
	// Frames is the number of decoded frames.
	Frames int
	// SceneCuts lists frames whose scene-change score exceeded the threshold.
	// Frame 0 is never included.
	SceneCuts []int
	// Keyframes lists frames the container flags as keyframes, ascending.
	Keyframes []int
}

// FrameInfo describes one decoded frame as seen by the select filter.
type FrameInfo struct {
	N        int
	Key      bool
	Selected bool
}

// ParseSelectLine extracts frame information from a select-filter debug line.
func ParseSelectLine(line string) (FrameInfo, bool) {
	m := selectDebugPattern.FindStringSubmatch(line)
	if m == nil {
		return FrameInfo{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return FrameInfo{}, false
	}
	sel, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return FrameInfo{}, false
	}
	return FrameInfo{N: n, Key: m[2] == "1", Selected: sel > 0}, true
}

// SceneFilter returns the select expression for a scene-change threshold in
// the 0..1 range. A non-positive threshold selects nothing, which still yields
// keyframe positions and a frame count.
func SceneFilter(threshold float64) string {
	if threshold <= 0 {
		return "select=0"
	}
	return fmt.Sprintf("select='gt(scene,%s)'", strconv.FormatFloat(threshold, 'f', 3, 64))
}

// Analyze decodes the first video stream of path once, collecting scene-change
// candidates above threshold together with keyframe positions. onFrame, when
// non-nil, is called for every decoded frame so callers can report progress.
func (r *Runner) Analyze(ctx context.Context, path string, threshold float64, onFrame func(n int)) (Analysis, error) {
	var result Analysis
	lastN := -1
	handle := func(line string) {
		info, ok := ParseSelectLine(line)
		if !ok || info.N <= lastN {
			return
		}
		lastN = info.N
		result.Frames = info.N + 1
		if info.Key {
			result.Keyframes = append(result.Keyframes, info.N)
		}
		if info.Selected && info.N > 0 {
			result.SceneCuts = append(result.SceneCuts, info.N)
		}
		if onFrame != nil {
			onFrame(info.N)
		}
	}

	err := r.stream(ctx, handle,
		"-loglevel", "debug",
		"-i", path,
		"-map", "0:v:0",
		"-an", "-sn", "-dn",
		"-vf", SceneFilter(threshold),
		"-fps_mode", "passthrough",
		"-f", "null", "-",
	)
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze %s: %w", path, err)
	}
	if result.Frames == 0 {
		return Analysis{}, fmt.Errorf("analyze %s: no frames decoded", path)
	}
	return result, nil
}
