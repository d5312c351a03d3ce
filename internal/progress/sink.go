package progress

import (
	"sync"
	"time"
)

// Sink receives progress events. Implementations must be safe for concurrent use.
type Sink interface {
	NewTask(id, stage string)
	StartEncode(id string, total, initial int)
	FrameDelta(id string, n int)
	Finished(id string, ok bool)
}

// Aggregate is a point-in-time view of a counted task.
type Aggregate struct {
	Done  int
	Total int
	// FPS covers frames produced in this run only; resumed frames are excluded.
	FPS float64
	ETA time.Duration
}

// Percent returns Done/Total clamped to [0, 100].
func (a Aggregate) Percent() float64 {
	if a.Total <= 0 {
		return 0
	}
	p := float64(a.Done) / float64(a.Total) * 100
	return min(max(p, 0), 100)
}

// Nop discards every event.
type Nop struct{}

func (Nop) NewTask(string, string) {}
func (Nop) StartEncode(string, int, int) {}
func (Nop) FrameDelta(string, int) {}
func (Nop) Finished(string, bool) {}

type multi []Sink

// Multi returns a sink that forwards every event to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) NewTask(id, stage string) {
	for _, s := range m {
		s.NewTask(id, stage)
	}
}

func (m multi) StartEncode(id string, total, initial int) {
	for _, s := range m {
		s.StartEncode(id, total, initial)
	}
}

func (m multi) FrameDelta(id string, n int) {
	for _, s := range m {
		s.FrameDelta(id, n)
	}
}

func (m multi) Finished(id string, ok bool) {
	for _, s := range m {
		s.Finished(id, ok)
	}
}

type task struct {
	stage   string
	total   int
	initial int
	done    int
	started time.Time
}

// tracker holds per-task counters shared by the concrete sinks.
type tracker struct {
	mu    sync.Mutex
	now   func() time.Time
	tasks map[string]*task
}

func newTracker() *tracker {
	return &tracker{now: time.Now, tasks: make(map[string]*task)}
}

func (t *tracker) start(id, stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[id] = &task{stage: stage, started: t.now()}
}

func (t *tracker) count(id string, total, initial int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk := t.get(id)
	tk.total = total
	tk.initial = initial
	tk.done = initial
	tk.started = t.now()
}

// add applies a delta and returns the updated view. Done never drops below
// the resumed baseline or exceeds the total.
func (t *tracker) add(id string, n int) (string, Aggregate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk := t.get(id)
	tk.done += n
	if tk.done < tk.initial {
		tk.done = tk.initial
	}
	if tk.total > 0 && tk.done > tk.total {
		tk.done = tk.total
	}
	return tk.stage, t.aggregate(tk)
}

func (t *tracker) finish(id string) (string, Aggregate, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tk := t.get(id)
	delete(t.tasks, id)
	return tk.stage, t.aggregate(tk), t.now().Sub(tk.started)
}

func (t *tracker) get(id string) *task {
	tk, ok := t.tasks[id]
	if !ok {
		tk = &task{stage: id, started: t.now()}
		t.tasks[id] = tk
	}
	return tk
}

func (t *tracker) aggregate(tk *task) Aggregate {
	agg := Aggregate{Done: tk.done, Total: tk.total}
	elapsed := t.now().Sub(tk.started).Seconds()
	encoded := tk.done - tk.initial
	if elapsed > 0 && encoded > 0 {
		agg.FPS = float64(encoded) / elapsed
		if remaining := tk.total - tk.done; remaining > 0 {
			agg.ETA = time.Duration(float64(remaining) / agg.FPS * float64(time.Second))
		}
	}
	return agg
}
