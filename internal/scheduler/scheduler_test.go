package scheduler

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qencode/internal/config"
	"qencode/internal/encoding"
	"qencode/internal/logging"
	"qencode/internal/planner"
	"qencode/internal/progress"
	"qencode/internal/services"
	"qencode/internal/testsupport"
)

func TestResolveWorkers(t *testing.T) {
	tests := []struct {
		name    string
		encoder config.EncoderName
		count   int
		chunks  int
		cpu     int
		mem     float64
		want    int
	}{
		{"cpu bound", config.EncoderAOM, 0, 100, 8, 64, 4},
		{"memory bound", config.EncoderAOM, 0, 100, 32, 6, 4},
		{"rounds half up", config.EncoderAOM, 0, 100, 5, 64, 3},
		{"floor of one", config.EncoderAOM, 0, 100, 1, 0.5, 1},
		{"capped by chunks", config.EncoderAOM, 0, 2, 32, 64, 2},
		{"explicit count", config.EncoderAOM, 6, 100, 2, 1, 6},
		{"explicit count capped", config.EncoderAOM, 6, 3, 2, 1, 3},
		{"unknown memory", config.EncoderAOM, 0, 100, 8, 0, 4},
		{"vp9", config.EncoderVP9, 0, 100, 16, 64, 8},
		{"vp8 memory bound", config.EncoderVP8, 0, 100, 16, 3, 2},
		{"encoder without heuristic", config.EncoderName("x265"), 0, 100, 16, 64, 1},
		{"explicit count for encoder without heuristic", config.EncoderName("x265"), 4, 100, 16, 64, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithMutation(func(c *config.Config) {
				c.Workers.Count = tt.count
				c.Encoder.Name = tt.encoder
			}))
			if got := ResolveWorkers(cfg, tt.chunks, tt.cpu, tt.mem); got != tt.want {
				t.Fatalf("ResolveWorkers = %d, want %d", got, tt.want)
			}
		})
	}
}

func chunksOf(sizes ...int64) []planner.Chunk {
	chunks := make([]planner.Chunk, len(sizes))
	for i, size := range sizes {
		chunks[i] = planner.Chunk{Index: i, Name: string(rune('a' + i)), SizeBytes: size, SourceFrames: 10}
	}
	return chunks
}

type countingSink struct {
	progress.Nop
	frames atomic.Int64
}

func (s *countingSink) FrameDelta(_ string, n int) { s.frames.Add(int64(n)) }

func TestPoolDispatchesLargestFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string
	work := func(_ context.Context, _ int, c planner.Chunk, report encoding.ProgressFunc) (encoding.Result, error) {
		mu.Lock()
		order = append(order, c.Name)
		mu.Unlock()
		report(5)
		return encoding.Result{Name: c.Name, Verified: true, EncodedFrames: c.SourceFrames}, nil
	}
	sink := &countingSink{}
	var ticks atomic.Int32
	pool := New(Options{Workers: 1, Total: 40, Sink: sink, Interval: time.Millisecond,
		OnTick: func(progress.Aggregate) { ticks.Add(1) }}, logging.NewNop())

	summary, err := pool.Run(context.Background(), chunksOf(10, 30, 20, 30), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := []string{"b", "d", "c", "a"}; !slices.Equal(order, got) {
		t.Fatalf("dispatch order = %v, want %v", order, got)
	}
	if summary.Verified != 4 || summary.Skipped != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if sink.frames.Load() != 40 {
		t.Fatalf("sink saw %d frames, want 40", sink.frames.Load())
	}
	if ticks.Load() == 0 {
		t.Fatal("expected aggregate ticks")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	work := func(_ context.Context, _ int, c planner.Chunk, _ encoding.ProgressFunc) (encoding.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return encoding.Result{Verified: true}, nil
	}
	pool := New(Options{Workers: 3}, logging.NewNop())
	if _, err := pool.Run(context.Background(), chunksOf(1, 2, 3, 4, 5, 6, 7, 8, 9), work); err != nil {
		t.Fatal(err)
	}
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3 slots", peak.Load())
	}
}

func TestPoolFailedChunksDoNotCountFrames(t *testing.T) {
	work := func(_ context.Context, _ int, c planner.Chunk, report encoding.ProgressFunc) (encoding.Result, error) {
		report(8)
		switch c.Name {
		case "a":
			return encoding.Result{}, services.Wrap(services.ErrExternalTool, "encode", "pass 1", c.Name, errors.New("crash"))
		case "b":
			return encoding.Result{Verified: false}, nil
		}
		return encoding.Result{Verified: true}, nil
	}
	sink := &countingSink{}
	var results atomic.Int32
	pool := New(Options{Workers: 1, Sink: sink, OnResult: func(Outcome) { results.Add(1) }}, logging.NewNop())
	summary, err := pool.Run(context.Background(), chunksOf(3, 2, 1), work)
	if err != nil {
		t.Fatalf("per-chunk failures must not fail the pool: %v", err)
	}
	if summary.Failed != 1 || summary.Unverified != 1 || summary.Verified != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if sink.frames.Load() != 10 {
		t.Fatalf("only the verified chunk should count, got %d frames", sink.frames.Load())
	}
	if results.Load() != 3 {
		t.Fatalf("OnResult called %d times", results.Load())
	}
}

type deltaSink struct {
	progress.Nop
	mu     sync.Mutex
	deltas []int
}

func (s *deltaSink) FrameDelta(_ string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, n)
}

func TestPoolProgressNeverGoesBackwards(t *testing.T) {
	work := func(_ context.Context, _ int, c planner.Chunk, report encoding.ProgressFunc) (encoding.Result, error) {
		if c.Name == "a" {
			report(8)
			time.Sleep(20 * time.Millisecond)
			return encoding.Result{}, services.Wrap(services.ErrExternalTool, "encode", "pass 1", c.Name, errors.New("crash"))
		}
		report(4)
		time.Sleep(20 * time.Millisecond)
		report(10)
		return encoding.Result{Verified: true}, nil
	}
	sink := &deltaSink{}
	var mu sync.Mutex
	var done []int
	pool := New(Options{Workers: 1, Total: 20, Sink: sink, Interval: time.Millisecond,
		OnTick: func(agg progress.Aggregate) {
			mu.Lock()
			done = append(done, agg.Done)
			mu.Unlock()
		}}, logging.NewNop())

	summary, err := pool.Run(context.Background(), chunksOf(2, 1), work)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Verified != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	total := 0
	for _, d := range sink.deltas {
		if d <= 0 {
			t.Fatalf("non-positive frame delta in %v", sink.deltas)
		}
		total += d
	}
	if total != 10 {
		t.Fatalf("deltas %v sum to %d, want 10", sink.deltas, total)
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(done); i++ {
		if done[i] < done[i-1] {
			t.Fatalf("aggregate done went backwards: %v", done)
		}
	}
}

func TestPoolStopsOnFatal(t *testing.T) {
	work := func(ctx context.Context, _ int, c planner.Chunk, _ encoding.ProgressFunc) (encoding.Result, error) {
		if c.Name == "a" {
			return encoding.Result{}, services.Fatal("quality", "probe", errors.New("libvmaf missing"))
		}
		<-ctx.Done()
		return encoding.Result{}, services.Wrap(services.ErrCancelled, "encode", "encode", c.Name, ctx.Err())
	}
	pool := New(Options{Workers: 2}, logging.NewNop())
	summary, err := pool.Run(context.Background(), chunksOf(9, 1, 1, 1, 1), work)
	if !services.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if summary.Skipped == 0 {
		t.Fatalf("expected undispatched chunks after fatal error: %+v", summary)
	}
}

func TestPoolRequestCancel(t *testing.T) {
	started := make(chan struct{}, 8)
	work := func(ctx context.Context, _ int, c planner.Chunk, _ encoding.ProgressFunc) (encoding.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return encoding.Result{}, services.Wrap(services.ErrCancelled, "encode", "encode", c.Name, ctx.Err())
	}
	pool := New(Options{Workers: 2, Interval: time.Millisecond}, logging.NewNop())
	go func() {
		<-started
		pool.RequestCancel()
		pool.RequestCancel()
	}()

	summary, err := pool.Run(context.Background(), chunksOf(1, 2, 3, 4, 5, 6), work)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if summary.Verified != 0 || summary.Cancelled == 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !pool.CancelRequested() {
		t.Fatal("cancel flag not set")
	}
}
