package pipeline

import (
	"context"
	"time"

	"qencode/internal/config"
	"qencode/internal/history"
	"qencode/internal/logging"
	"qencode/internal/metrics"
	"qencode/internal/scheduler"
	"qencode/internal/services"
)

// historyTimeout bounds each history write.
const historyTimeout = 5 * time.Second

func (j *Job) historyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), historyTimeout)
}

func (j *Job) beginHistory(context.Context) {
	if j.opts.History == nil {
		return
	}
	ctx, cancel := j.historyContext()
	defer cancel()
	_, err := j.opts.History.Begin(ctx, history.Run{
		ID:          j.id,
		SourcePath:  j.cfg.Paths.Source,
		OutputPath:  j.cfg.Paths.Output,
		TempDir:     j.cfg.Paths.TempDir,
		Encoder:     string(j.cfg.Encoder.Name),
		QualityMode: string(j.cfg.Quality.Mode),
		Resumed:     j.cfg.Workers.Resume,
		StartedAt:   time.Now(),
	})
	if err != nil {
		j.historyFailed("begin", err)
	}
}

func (j *Job) updateHistoryPlan(res Result) {
	if j.opts.History == nil {
		return
	}
	ctx, cancel := j.historyContext()
	defer cancel()
	if err := j.opts.History.UpdatePlan(ctx, j.id, res.Workers, res.Chunks, res.Frames, res.Done); err != nil {
		j.historyFailed("plan", err)
	}
}

func (j *Job) finishHistory(res Result, runErr error) {
	if j.opts.History == nil {
		return
	}
	ctx, cancel := j.historyContext()
	defer cancel()
	if err := j.opts.History.Finish(ctx, j.id, res.Status, res.Done, runErr); err != nil {
		j.historyFailed("finish", err)
	}
}

// observeChunk feeds a chunk outcome into metrics and history.
func (j *Job) observeChunk(o scheduler.Outcome) {
	result := chunkResult(o)
	cq := -1
	if o.Result.Decision.Mode != config.QualityBitrate && result != metrics.ResultFailed && result != metrics.ResultCancelled {
		cq = o.Result.Decision.CQ
	}
	j.metrics.ObserveChunk(result, cq, o.Result.Elapsed)

	if j.opts.History == nil {
		return
	}
	entry := history.Chunk{
		Name:    o.Chunk.Name,
		Result:  result,
		Frames:  o.Chunk.SourceFrames,
		CQ:      cq,
		Reason:  o.Result.Decision.Reason,
		Elapsed: o.Result.Elapsed,
	}
	if o.Err != nil {
		entry.Error = o.Err.Error()
	}
	ctx, cancel := j.historyContext()
	defer cancel()
	if err := j.opts.History.RecordChunk(ctx, j.id, entry); err != nil {
		j.historyFailed("chunk", err)
	}
}

func chunkResult(o scheduler.Outcome) string {
	switch {
	case o.Err == nil && o.Result.Verified:
		return metrics.ResultVerified
	case o.Err == nil:
		return metrics.ResultUnverified
	case services.IsCancelled(o.Err):
		return metrics.ResultCancelled
	default:
		return metrics.ResultFailed
	}
}

func (j *Job) historyFailed(op string, err error) {
	logging.WarnWithContext(j.logger, "history write failed", "history_write_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldImpact, "run history may be incomplete"),
	)
}
