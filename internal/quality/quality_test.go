package quality

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/planner"
)

func TestPercentileMatchesLinearInterpolation(t *testing.T) {
	values := []float64{90, 95, 80, 85, math.NaN(), 100}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 80},
		{25, 85},
		{50, 90},
		{100, 100},
		{10, 82},
	}
	for _, tt := range tests {
		if got := Percentile(values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
	if !math.IsNaN(Percentile([]float64{math.NaN()}, 25)) {
		t.Fatal("expected NaN when every value is NaN")
	}
}

func TestMonotoneInterpolationDoesNotOvershoot(t *testing.T) {
	points := []Probe{{20, 99}, {30, 97.5}, {35, 90}, {50, 60}}
	curve, err := NewMonotone(points)
	if err != nil {
		t.Fatal(err)
	}
	prev := math.Inf(1)
	for cq := 20.0; cq <= 50; cq += 0.25 {
		v := curve.At(cq)
		if v > prev+1e-9 {
			t.Fatalf("curve increased at %v: %v > %v", cq, v, prev)
		}
		if v > 99 || v < 60 {
			t.Fatalf("curve left data range at %v: %v", cq, v)
		}
		prev = v
	}
	for _, p := range points {
		if got := curve.At(float64(p.CQ)); math.Abs(got-p.Score) > 1e-9 {
			t.Fatalf("curve misses knot %d: %v", p.CQ, got)
		}
	}
}

func TestMonotoneRejectsBadInput(t *testing.T) {
	if _, err := NewMonotone([]Probe{{20, 90}}); err == nil {
		t.Fatal("expected error for a single point")
	}
	if _, err := NewMonotone([]Probe{{20, 90}, {20, 91}}); err == nil {
		t.Fatal("expected error for duplicate x")
	}
}

func TestGeometricBrightness(t *testing.T) {
	if got := GeometricBrightness([]float64{15, 63}); got != 32 {
		t.Fatalf("GeometricBrightness = %v, want 32", got)
	}
	if got := GeometricBrightness(nil); got != 0 {
		t.Fatalf("empty input = %v", got)
	}
}

func TestBoostCQ(t *testing.T) {
	tests := []struct {
		name       string
		cq         int
		brightness float64
		strength   int
		floor      int
		want       int
	}{
		{"bright unchanged", 30, 140, 15, 0, 30},
		{"neutral unchanged", 30, 128, 15, 0, 30},
		{"dark lowered", 30, 64, 15, 0, 22},
		{"black fully boosted", 30, 1, 15, 0, 15},
		{"floor respected", 30, 1, 15, 20, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoostCQ(tt.cq, tt.brightness, tt.strength, tt.floor); got != tt.want {
				t.Fatalf("BoostCQ = %d, want %d", got, tt.want)
			}
		})
	}
}

type fakeSampler struct {
	values []float64
	err    error
}

func (f fakeSampler) Brightness(context.Context, string) ([]float64, error) {
	return f.values, f.err
}

func TestBoostDecide(t *testing.T) {
	b := NewBoost(fakeSampler{values: []float64{63, 63}}, 30, 15, 0, nil)
	d, err := b.Decide(context.Background(), planner.Chunk{Name: "0000"})
	if err != nil {
		t.Fatal(err)
	}
	if d.CQ != 22 || d.Brightness != 64 || d.Mode != config.QualityFixedCQ {
		t.Fatalf("unexpected decision: %+v", d)
	}

	b = NewBoost(fakeSampler{err: errors.New("decode failed")}, 30, 15, 0, nil)
	if _, err := b.Decide(context.Background(), planner.Chunk{Name: "0000"}); err == nil {
		t.Fatal("expected sampler error to propagate")
	}
}

func TestFixedDecide(t *testing.T) {
	d, err := Fixed{Mode: config.QualityBitrate, BitrateKbps: 2500}.Decide(context.Background(), planner.Chunk{})
	if err != nil {
		t.Fatal(err)
	}
	if d.BitrateKbps != 2500 || d.Mode != config.QualityBitrate {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

// curveProber scores cq with a fixed function and records every probe.
type curveProber struct {
	score func(int) float64
	calls []int
	err   error
}

func (c *curveProber) Probe(_ context.Context, cq int) (float64, error) {
	c.calls = append(c.calls, cq)
	if c.err != nil {
		return 0, c.err
	}
	return c.score(cq), nil
}

func TestSearchEarlyExitHigh(t *testing.T) {
	prober := &curveProber{score: func(cq int) float64 { return 99 - float64(cq)/10 }}
	res, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 50, Steps: 6, Target: 90})
	if err != nil {
		t.Fatal(err)
	}
	if res.CQ != 50 || res.Reason != "early-high" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !reflect.DeepEqual(prober.calls, []int{50}) {
		t.Fatalf("expected a single probe at max cq, got %v", prober.calls)
	}
}

func TestSearchEarlyExitLow(t *testing.T) {
	prober := &curveProber{score: func(cq int) float64 { return 80 - float64(cq)/10 }}
	res, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 50, Steps: 6, Target: 90})
	if err != nil {
		t.Fatal(err)
	}
	if res.CQ != 20 || res.Reason != "early-low" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !reflect.DeepEqual(prober.calls, []int{50, 20}) {
		t.Fatalf("expected probes at max then min, got %v", prober.calls)
	}
}

func TestSearchEarlyExitUsesRoundedScore(t *testing.T) {
	// 90.4 rounds to 90, which does not beat a target of 90.
	prober := &curveProber{score: func(cq int) float64 {
		if cq == 50 {
			return 90.4
		}
		return 99
	}}
	res, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 50, Steps: 2, Target: 90})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason == "early-high" {
		t.Fatalf("did not expect early exit: %+v", res)
	}
}

func TestSearchBisectionConvergence(t *testing.T) {
	curves := map[string]func(int) float64{
		"linear":  func(cq int) float64 { return 110 - float64(cq) },
		"concave": func(cq int) float64 { return 100 - 0.02*float64(cq*cq) },
		"convex":  func(cq int) float64 { return 40 + 1800/float64(cq+10) },
	}
	for name, score := range curves {
		t.Run(name, func(t *testing.T) {
			params := SearchParams{MinCQ: 10, MaxCQ: 60, Steps: 6, Target: 85}
			prober := &curveProber{score: score}
			res, err := Search(context.Background(), prober, params)
			if err != nil {
				t.Fatal(err)
			}
			if len(prober.calls) > params.Steps {
				t.Fatalf("made %d probes, budget %d", len(prober.calls), params.Steps)
			}
			best := math.Inf(1)
			for cq := params.MinCQ; cq <= params.MaxCQ; cq++ {
				best = math.Min(best, math.Abs(score(cq)-params.Target))
			}
			got := math.Abs(score(res.CQ) - params.Target)
			if got-best > 2.5 {
				t.Fatalf("cq %d misses target by %.2f, best achievable %.2f", res.CQ, got, best)
			}
		})
	}
}

func TestSearchLinearCurvePicksExactCQ(t *testing.T) {
	prober := &curveProber{score: func(cq int) float64 { return 120 - float64(cq) }}
	res, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 50, Steps: 4, Target: 94})
	if err != nil {
		t.Fatal(err)
	}
	if res.CQ != 26 {
		t.Fatalf("CQ = %d, want 26 (probes %v)", res.CQ, res.Probes)
	}
	if !reflect.DeepEqual(prober.calls, []int{50, 20, 35, 27}) {
		t.Fatalf("probe sequence = %v", prober.calls)
	}
}

func TestSearchDoesNotReprobeSameCQ(t *testing.T) {
	prober := &curveProber{score: func(cq int) float64 { return 100 - float64(cq) }}
	_, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 22, Steps: 8, Target: 79})
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int]bool{}
	for _, cq := range prober.calls {
		if seen[cq] {
			t.Fatalf("cq %d probed twice: %v", cq, prober.calls)
		}
		seen[cq] = true
	}
}

func TestSearchLogsExhaustedBracket(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "search.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatal(err)
	}
	scores := map[int]float64{20: 79.6, 21: 70}
	prober := &curveProber{score: func(cq int) float64 { return scores[cq] }}
	res, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 21, Steps: 6, Target: 80, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	if len(prober.calls) != 2 || res.Reason != "interpolated" {
		t.Fatalf("calls = %v, result = %+v", prober.calls, res)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "target search bracket exhausted") || !strings.Contains(string(content), `"steps":6`) {
		t.Fatalf("expected exhausted-bracket debug record, got %q", content)
	}
}

func TestSearchPropagatesProbeErrors(t *testing.T) {
	prober := &curveProber{err: ErrMetricUnavailable}
	_, err := Search(context.Background(), prober, SearchParams{MinCQ: 20, MaxCQ: 50, Steps: 4, Target: 94})
	if !errors.Is(err, ErrMetricUnavailable) {
		t.Fatalf("expected ErrMetricUnavailable, got %v", err)
	}
}

func TestParseVMAFLog(t *testing.T) {
	data := []byte(`{"version":"2.3.1","frames":[
		{"frameNum":0,"metrics":{"integer_adm2":0.99,"vmaf":95.5}},
		{"frameNum":1,"metrics":{"vmaf":nan}},
		{"frameNum":2,"metrics":{"vmaf":91.25}}
	],"pooled_metrics":{}}`)
	scores, err := ParseVMAFLog(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 3 || scores[0] != 95.5 || !math.IsNaN(scores[1]) || scores[2] != 91.25 {
		t.Fatalf("scores = %v", scores)
	}
	if _, err := ParseVMAFLog([]byte(`{"frames":[]}`)); err == nil {
		t.Fatal("expected error for empty log")
	}
}

func TestProbeArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Aomenc = "aomenc"
	cfg.Tools.Vpxenc = "vpxenc"
	cfg.Encoder.Threads = 8
	got := ProbeArgs(&cfg, 32, "v_32.ivf")
	want := []string{"aomenc", "-q", "--passes=1", "--threads=8", "--end-usage=q", "--cpu-used=6", "--cq-level=32", "-o", "v_32.ivf", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("aom probe args = %v", got)
	}

	cfg.Encoder.Name = config.EncoderVP9
	cfg.Encoder.BitDepth = 10
	got = ProbeArgs(&cfg, 32, "v_32.ivf")
	want = []string{"vpxenc", "--codec=vp9", "--passes=1", "--pass=1", "--threads=8", "--end-usage=q", "--cpu-used=9",
		"--cq-level=32", "--bit-depth=10", "--input-bit-depth=10", "--profile=2", "-o", "v_32.ivf", "-"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("vp9 probe args = %v", got)
	}
}
