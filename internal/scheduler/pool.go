package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"qencode/internal/encoding"
	"qencode/internal/logging"
	"qencode/internal/planner"
	"qencode/internal/progress"
	"qencode/internal/services"
)

const (
	stageName       = "encode"
	defaultInterval = 200 * time.Millisecond
)

// Work encodes one chunk on a slot, reporting in-chunk frame progress.
type Work func(ctx context.Context, slot int, chunk planner.Chunk, report encoding.ProgressFunc) (encoding.Result, error)

// Options configures a pool run.
type Options struct {
	Workers int
	// TaskID names the progress task the aggregator reports against.
	TaskID string
	// Total and Initial are the job's frame total and the frames already
	// recorded by a previous run.
	Total   int
	Initial int
	Sink    progress.Sink
	// OnTick observes every aggregate sample.
	OnTick func(progress.Aggregate)
	// OnResult observes every finished chunk, in completion order.
	OnResult func(Outcome)
	// Interval overrides the aggregator period.
	Interval time.Duration
}

// Outcome is the result of one dispatched chunk.
type Outcome struct {
	Chunk  planner.Chunk
	Slot   int
	Result encoding.Result
	Err    error
}

// Summary counts outcomes for a pool run.
type Summary struct {
	Verified   int
	Unverified int
	Failed     int
	Cancelled  int
	// Skipped chunks were never dispatched.
	Skipped  int
	Outcomes []Outcome
}

// Pool runs Work over chunks with a bounded number of slots.
type Pool struct {
	opts            Options
	logger          *slog.Logger
	cancelRequested atomic.Bool
	// slots hold the frames of the chunk each slot is encoding; committed
	// holds the frames of chunks recorded in this run.
	slots     []atomic.Int64
	committed atomic.Int64
}

// New returns a pool. Workers below one is treated as one.
func New(opts Options, logger *slog.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.TaskID == "" {
		opts.TaskID = stageName
	}
	if opts.Sink == nil {
		opts.Sink = progress.Nop{}
	}
	return &Pool{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "scheduler"),
		slots:  make([]atomic.Int64, opts.Workers),
	}
}

// RequestCancel asks a running pool to stop. It is safe to call any number
// of times from any goroutine, including before Run.
func (p *Pool) RequestCancel() {
	p.cancelRequested.Store(true)
}

// CancelRequested reports whether RequestCancel has been called.
func (p *Pool) CancelRequested() bool {
	return p.cancelRequested.Load()
}

// Run dispatches chunks largest first and blocks until every slot is idle.
// Per-chunk failures are counted in the summary. The returned error is the
// first fatal chunk error, a cancellation, or nil.
func (p *Pool) Run(ctx context.Context, chunks []planner.Chunk, work Work) (Summary, error) {
	var summary Summary
	if len(chunks) == 0 {
		return summary, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan planner.Chunk)
	results := make(chan Outcome)
	var wg sync.WaitGroup
	for slot := range p.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range queue {
				results <- p.runChunk(runCtx, slot, chunk, work)
			}
		}()
	}
	go func() {
		defer close(queue)
		for _, chunk := range planner.EncodeOrder(chunks) {
			if p.cancelRequested.Load() || runCtx.Err() != nil {
				return
			}
			select {
			case <-runCtx.Done():
				return
			case queue <- chunk:
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	p.logger.Info("worker pool started",
		logging.Int("workers", p.opts.Workers),
		logging.Int("chunks", len(chunks)),
		logging.Int("total_frames", p.opts.Total),
		logging.Int("resumed_frames", p.opts.Initial),
	)

	agg := newAggregator(p)
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()
	var fatal error

loop:
	for {
		select {
		case out, ok := <-results:
			if !ok {
				break loop
			}
			if err := p.record(&summary, out); err != nil && fatal == nil {
				fatal = err
				cancel()
			}
		case <-ticker.C:
			if p.cancelRequested.Load() {
				cancel()
			}
			agg.flush()
		}
	}
	agg.flush()
	summary.Skipped = len(chunks) - len(summary.Outcomes)

	p.logger.Info("worker pool finished",
		logging.Int("verified", summary.Verified),
		logging.Int("unverified", summary.Unverified),
		logging.Int("failed", summary.Failed),
		logging.Int("cancelled", summary.Cancelled),
		logging.Int("skipped", summary.Skipped),
	)

	switch {
	case fatal != nil:
		return summary, fatal
	case p.cancelRequested.Load() || ctx.Err() != nil:
		return summary, services.Wrap(services.ErrCancelled, stageName, "pool", "", context.Canceled)
	}
	return summary, nil
}

// runChunk tracks live progress in the slot counter and moves the chunk's
// frames into the committed total only when it was recorded.
func (p *Pool) runChunk(ctx context.Context, slot int, chunk planner.Chunk, work Work) Outcome {
	live := &p.slots[slot]
	live.Store(0)
	report := func(n int) {
		if n >= 0 {
			live.Store(int64(min(n, chunk.SourceFrames)))
		}
	}
	res, err := work(ctx, slot, chunk, report)
	live.Store(0)
	if err == nil && res.Verified {
		p.committed.Add(int64(chunk.SourceFrames))
	}
	return Outcome{Chunk: chunk, Slot: slot, Result: res, Err: err}
}

// record tallies out and returns its error when it must stop the job.
func (p *Pool) record(summary *Summary, out Outcome) error {
	summary.Outcomes = append(summary.Outcomes, out)
	if p.opts.OnResult != nil {
		p.opts.OnResult(out)
	}
	logger := p.logger.With(logging.Args(logging.Chunk(out.Chunk.Name), logging.Slot(out.Slot))...)
	switch {
	case out.Err == nil && out.Result.Verified:
		summary.Verified++
	case out.Err == nil:
		summary.Unverified++
	case services.IsCancelled(out.Err):
		summary.Cancelled++
	case services.IsFatal(out.Err):
		summary.Failed++
		logging.ErrorWithContext(logger, "chunk failed fatally", "chunk_fatal", logging.Error(out.Err))
		return out.Err
	default:
		summary.Failed++
		logging.WarnWithContext(logger, "chunk failed", "chunk_failed",
			logging.Error(out.Err),
			logging.String(logging.FieldImpact, "chunk left unrecorded; job will be incomplete"),
		)
	}
	return nil
}

// aggregator sums committed and live frames and forwards increases of the
// displayed total to the sink. The displayed total never decreases: frames a
// failed chunk had reported stay shown until real progress passes them.
type aggregator struct {
	pool    *Pool
	started time.Time
	shown   int64
}

func newAggregator(p *Pool) *aggregator {
	return &aggregator{pool: p, started: time.Now()}
}

func (a *aggregator) flush() {
	sum := a.pool.committed.Load()
	for i := range a.pool.slots {
		sum += a.pool.slots[i].Load()
	}
	if delta := sum - a.shown; delta > 0 {
		a.pool.opts.Sink.FrameDelta(a.pool.opts.TaskID, int(delta))
		a.shown = sum
	}
	if a.pool.opts.OnTick == nil {
		return
	}
	agg := progress.Aggregate{Done: a.pool.opts.Initial + int(a.shown), Total: a.pool.opts.Total}
	if elapsed := time.Since(a.started).Seconds(); elapsed > 0 && a.shown > 0 {
		agg.FPS = float64(a.shown) / elapsed
		if remaining := agg.Total - agg.Done; remaining > 0 {
			agg.ETA = time.Duration(float64(remaining) / agg.FPS * float64(time.Second))
		}
	}
	a.pool.opts.OnTick(agg)
}
