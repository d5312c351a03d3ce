package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"qencode/internal/assemble"
	"qencode/internal/config"
	"qencode/internal/encoding"
	"qencode/internal/fileutil"
	"qencode/internal/ledger"
	"qencode/internal/logging"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/media/ffprobe"
	"qencode/internal/metrics"
	"qencode/internal/planner"
	"qencode/internal/preflight"
	"qencode/internal/quality"
	"qencode/internal/scheduler"
	"qencode/internal/services"
	"qencode/internal/workdir"
)

// run holds the state threaded through the stages of one Job.Run call.
type run struct {
	job    *Job
	res    *Result
	logger *slog.Logger

	layout  workdir.Layout
	lock    *workdir.JobLock
	server  *metrics.Server
	ff      *ffmpeg.Runner
	asm     *assemble.Assembler
	ledger  *ledger.Ledger
	chunks  []planner.Chunk
	pending []planner.Chunk
	audio   string
	initial int
	resumed bool
}

type step struct {
	name string
	fn   func(context.Context) error
}

func (r *run) execute(ctx context.Context) (err error) {
	cfg := r.job.cfg
	r.layout = workdir.New(cfg.Paths.TempDir)
	r.ff = ffmpeg.New(cfg.Tools.FFmpeg, r.logger)
	defer func() { r.teardown(err == nil) }()

	steps := []step{
		{"preflight", r.preflight},
		{"prepare", r.prepare},
		{"plan", r.plan},
		{"audio", r.extractAudio},
		{"ledger", r.loadLedger},
		{"encode", r.encode},
		{"verify", r.verify},
		{"assemble", r.assemble},
	}
	for _, s := range steps {
		if err := r.stage(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) stage(ctx context.Context, s step) error {
	if ctx.Err() != nil {
		return services.Wrap(services.ErrCancelled, s.name, "", "", ctx.Err())
	}
	stageCtx := services.WithStage(ctx, s.name)
	logger := logging.WithContext(stageCtx, r.logger)
	sink := r.job.opts.Sink
	start := time.Now()

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	sink.NewTask(s.name, s.name)
	err := s.fn(stageCtx)
	if err != nil && ctx.Err() != nil && !services.IsCancelled(err) {
		err = services.Wrap(services.ErrCancelled, s.name, "", "", err)
	}
	elapsed := time.Since(start)
	r.job.metrics.ObserveStage(s.name, elapsed)
	sink.Finished(s.name, err == nil)

	if err != nil {
		logger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("outcome", services.Outcome(err)),
			logging.Error(err),
		)
		return err
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)
	return nil
}

func (r *run) teardown(success bool) {
	if r.asm != nil {
		if err := r.asm.Finish(success); err != nil {
			logging.WarnWithContext(r.logger, "temp cleanup failed", "cleanup_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "temp directory left on disk"),
			)
		}
	}
	if r.server != nil {
		r.server.Close()
	}
	if r.lock != nil {
		if err := r.lock.Release(); err != nil {
			r.logger.Debug("job lock release failed", logging.Error(err))
		}
	}
}

func (r *run) preflight(ctx context.Context) error {
	results, err := preflight.Verify(ctx, r.job.cfg)
	for _, res := range results {
		if !res.Passed && res.Advisory {
			logging.WarnWithContext(r.logger, "preflight advisory", "preflight_advisory",
				logging.String("check", res.Name),
				logging.String("detail", res.Detail),
			)
		}
	}
	return err
}

func (r *run) prepare(ctx context.Context) error {
	cfg := r.job.cfg
	lock, err := workdir.Lock(r.layout)
	if err != nil {
		if errors.Is(err, workdir.ErrBusy) {
			return services.Wrap(services.ErrValidation, "prepare", "lock", "", err)
		}
		return services.Fatal("prepare", "lock", err)
	}
	r.lock = lock

	kept, err := workdir.Prepare(r.layout, cfg.Workers.Resume, r.logger)
	if err != nil {
		return services.Fatal("prepare", "temp dir", err)
	}
	r.resumed = kept

	if r.job.opts.LogFile {
		logger, err := logging.NewFromConfig(cfg, r.layout.LogPath())
		if err != nil {
			return services.Fatal("prepare", "log file", err)
		}
		r.logger = logger.With(logging.String(logging.FieldJobID, r.job.id))
		r.ff = ffmpeg.New(cfg.Tools.FFmpeg, r.logger)
	}
	r.asm = assemble.New(cfg, r.ff, r.layout, r.logger)

	if addr := strings.TrimSpace(cfg.Metrics.Listen); addr != "" {
		srv, err := r.job.metrics.Serve(addr, r.logger)
		if err != nil {
			logging.WarnWithContext(r.logger, "metrics endpoint unavailable", "metrics_listen_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job continues without a scrape endpoint"),
			)
		} else {
			r.server = srv
		}
	}
	return nil
}

func (r *run) plan(ctx context.Context) error {
	cfg := r.job.cfg
	p := planner.New(cfg, r.ff, r.layout, r.logger)
	if r.resumed {
		chunks, ok, err := p.Resume(ctx)
		if err != nil {
			return err
		}
		if ok {
			r.setChunks(chunks)
			r.logger.Info("reusing split chunks", logging.Int("chunks", len(chunks)))
			return nil
		}
		r.resumed = false
	}

	var opts planner.Options
	if cfg.Split.Strategy == config.SplitContent || cfg.Split.Strategy == config.SplitKeyframeSafe {
		opts.OnFrame = r.analysisProgress(ctx)
	}
	if cfg.Split.MatchWorkers {
		cpu, mem := r.job.opts.Resources()
		opts.TargetCount = scheduler.ResolveWorkers(cfg, 0, cpu, mem)
	}
	plan, err := p.Plan(ctx, opts)
	if err != nil {
		return err
	}
	chunks, err := p.Split(ctx, plan)
	if err != nil {
		return err
	}
	r.setChunks(chunks)
	return nil
}

// analysisProgress reports scene analysis against an ffprobe frame estimate.
func (r *run) analysisProgress(ctx context.Context) func(int) {
	cfg := r.job.cfg
	estimate := 0
	if info, err := ffprobe.Inspect(ctx, cfg.Tools.FFprobe, cfg.Paths.Source); err == nil {
		estimate = info.EstimatedFrames()
	} else {
		r.logger.Debug("frame estimate unavailable", logging.Error(err))
	}
	sink := r.job.opts.Sink
	sink.StartEncode("plan", estimate, 0)
	last := 0
	return func(n int) {
		if n > last {
			sink.FrameDelta("plan", n-last)
			last = n
		}
	}
}

func (r *run) setChunks(chunks []planner.Chunk) {
	r.chunks = chunks
	r.res.Chunks = len(chunks)
	r.res.Frames = planner.TotalFrames(chunks)
}

func (r *run) extractAudio(ctx context.Context) error {
	path, err := r.asm.ExtractAudio(ctx)
	if err != nil {
		return err
	}
	r.audio = path
	return nil
}

func (r *run) loadLedger(context.Context) error {
	r.ledger = ledger.Open(r.layout.LedgerPath(), r.logger)
	set, err := r.ledger.LoadOrInit(r.res.Frames, r.resumed)
	if err != nil {
		return services.Fatal("ledger", "load", err)
	}

	r.pending = r.pending[:0]
	r.initial = 0
	for _, c := range r.chunks {
		if r.ledger.IsResumed(c.Name) {
			if fileutil.NonEmpty(c.EncodePath) {
				r.initial += c.SourceFrames
				r.res.Resumed++
				continue
			}
			logging.WarnWithContext(r.logger, "recorded chunk has no encoded output", "resume_output_missing",
				logging.Chunk(c.Name),
				logging.String(logging.FieldImpact, "chunk will be encoded again"),
			)
		}
		r.pending = append(r.pending, c)
	}
	r.res.Done = r.initial
	r.logger.Info("ledger ready",
		logging.Int("recorded", len(set.Done)),
		logging.Int("skipped", r.res.Resumed),
		logging.Int("pending", len(r.pending)),
		logging.Int("resumed_frames", r.initial),
	)
	return nil
}

func (r *run) encode(ctx context.Context) error {
	cfg := r.job.cfg
	cpu, mem := r.job.opts.Resources()
	workers := scheduler.ResolveWorkers(cfg, len(r.pending), cpu, mem)
	r.res.Workers = workers
	r.job.metrics.SetPlan(len(r.chunks), r.res.Frames, workers)
	r.job.updateHistoryPlan(*r.res)

	if len(r.pending) == 0 {
		r.logger.Info("all chunks already encoded")
		return nil
	}

	strategy := quality.New(cfg, r.ff, r.layout, r.logger)
	builder := encoding.NewBuilder(cfg, r.layout)
	encoder := encoding.NewEncoder(cfg, r.ff, r.ledger, nil, r.logger)
	work := func(ctx context.Context, slot int, chunk planner.Chunk, report encoding.ProgressFunc) (encoding.Result, error) {
		ctx = services.WithChunk(ctx, chunk.Name)
		decision, err := strategy.Decide(ctx, chunk)
		if err != nil {
			return encoding.Result{Name: chunk.Name}, err
		}
		job, err := builder.Build(chunk, decision)
		if err != nil {
			return encoding.Result{Name: chunk.Name, Decision: decision},
				services.Fatal("encode", "build", services.Wrap(services.ErrConfiguration, "encode", "build", chunk.Name, err))
		}
		return encoder.Encode(ctx, slot, job, report)
	}

	pool := scheduler.New(scheduler.Options{
		Workers:  workers,
		TaskID:   "encode",
		Total:    r.res.Frames,
		Initial:  r.initial,
		Sink:     r.job.opts.Sink,
		OnTick:   r.job.metrics.ObserveAggregate,
		OnResult: r.job.observeChunk,
	}, r.logger)
	r.job.setPool(pool)
	r.job.opts.Sink.StartEncode("encode", r.res.Frames, r.initial)

	summary, err := pool.Run(ctx, r.pending, work)
	r.res.Encode = summary
	return err
}

// verify compares the ledger done-set with the planned chunk set.
func (r *run) verify(context.Context) error {
	state, err := r.ledger.Snapshot()
	if err != nil {
		return services.Fatal("verify", "ledger", err)
	}
	r.res.Done = state.Frames()

	var missing []string
	for _, c := range r.chunks {
		if _, ok := state.Done[c.Name]; !ok || !fileutil.NonEmpty(c.EncodePath) {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	shown := missing
	if len(shown) > 10 {
		shown = shown[:10]
	}
	msg := fmt.Sprintf("%d of %d chunks not encoded (%s)", len(missing), len(r.chunks), strings.Join(shown, ", "))
	logging.WarnWithContext(r.logger, "job incomplete", "job_incomplete",
		logging.Int("missing", len(missing)),
		logging.String(logging.FieldErrorHint, "rerun with workers.resume = true to encode the remaining chunks"),
		logging.String(logging.FieldImpact, "output not assembled; temp directory preserved"),
	)
	return services.Wrap(services.ErrIncomplete, "verify", "completeness", msg, nil)
}

func (r *run) assemble(ctx context.Context) error {
	return r.asm.Assemble(ctx, r.chunks, r.audio)
}
