package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"qencode/internal/config"
	"qencode/internal/history"
	"qencode/internal/logging"
	"qencode/internal/metrics"
	"qencode/internal/progress"
	"qencode/internal/scheduler"
	"qencode/internal/services"
)

// jobTask is the progress task id covering the whole run.
const jobTask = "job"

// Options wires optional collaborators into a Job.
type Options struct {
	// Logger receives records before the temp dir exists. Nil discards them.
	Logger *slog.Logger
	// LogFile tees the job log into <temp>/log.log once the temp dir is ready.
	LogFile bool
	Sink    progress.Sink
	// History records the run when non-nil.
	History *history.Store
	// Metrics collects job metrics; a private set is created when nil.
	Metrics *metrics.Metrics
	// Resources reports CPU count and memory in GiB for worker sizing.
	Resources func() (int, float64)
}

// Result summarizes a finished run.
type Result struct {
	JobID   string
	Status  string
	Output  string
	Chunks  int
	Frames  int
	Done    int
	Resumed int
	Workers int
	Encode  scheduler.Summary
	Elapsed time.Duration
}

// Job is a single encoding run over an immutable configuration.
type Job struct {
	cfg     *config.Config
	opts    Options
	id      string
	logger  *slog.Logger
	metrics *metrics.Metrics

	cancelRequested atomic.Bool
	mu              sync.Mutex
	cancel          context.CancelFunc
	pool            *scheduler.Pool
}

// New prepares a job. cfg must already be validated and is never modified.
func New(cfg *config.Config, opts Options) *Job {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = progress.Nop{}
	}
	if opts.Resources == nil {
		opts.Resources = scheduler.SystemResources
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	id := uuid.NewString()
	return &Job{
		cfg:     cfg,
		opts:    opts,
		id:      id,
		logger:  opts.Logger.With(logging.String(logging.FieldJobID, id)),
		metrics: m,
	}
}

// ID returns the job run identifier.
func (j *Job) ID() string { return j.id }

// RequestCancel stops the job as soon as possible. Running encoders are
// killed and nothing further is recorded. Safe to call repeatedly and from
// any goroutine, including a signal handler.
func (j *Job) RequestCancel() {
	if j.cancelRequested.Swap(true) {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pool != nil {
		j.pool.RequestCancel()
	}
	if j.cancel != nil {
		j.cancel()
	}
}

// Run executes the job and blocks until it finishes. The error is nil only
// when the output was assembled from a complete set of verified chunks.
func (j *Job) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	if j.cancelRequested.Load() {
		cancel()
	}
	ctx = services.WithJobID(ctx, j.id)

	start := time.Now()
	res := Result{JobID: j.id, Output: j.cfg.Paths.Output}
	j.opts.Sink.NewTask(jobTask, "job")
	j.logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("source", j.cfg.Paths.Source),
		logging.String("output", j.cfg.Paths.Output),
		logging.String("temp_dir", j.cfg.Paths.TempDir),
		logging.String("encoder", string(j.cfg.Encoder.Name)),
		logging.String("quality_mode", string(j.cfg.Quality.Mode)),
		logging.Bool("resume", j.cfg.Workers.Resume),
	)
	j.beginHistory(ctx)

	r := &run{job: j, res: &res, logger: j.logger}
	err := r.execute(ctx)

	res.Status = services.Outcome(err)
	res.Elapsed = time.Since(start)
	j.finishHistory(res, err)
	j.opts.Sink.Finished(jobTask, err == nil)

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "job_finish"),
		logging.String("status", res.Status),
		logging.Int("chunks", res.Chunks),
		logging.Int("frames_done", res.Done),
		logging.Int("frames_total", res.Frames),
		logging.Duration("elapsed", res.Elapsed.Round(time.Second)),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
		r.logger.Error("job finished", logging.Args(attrs...)...)
	} else {
		r.logger.Info("job finished", logging.Args(attrs...)...)
	}
	return res, err
}

func (j *Job) setPool(p *scheduler.Pool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pool = p
	if j.cancelRequested.Load() {
		p.RequestCancel()
	}
}
