package progress

import (
	"log/slog"
	"sync"
	"time"

	"qencode/internal/logging"
)

// Log writes progress as structured records, sampled to 5% steps.
type Log struct {
	mu      sync.Mutex
	logger  *slog.Logger
	tracker *tracker
	sampler *logging.ProgressSampler
}

// NewLog returns a sink logging through logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{
		logger:  logging.NewComponentLogger(logger, "progress"),
		tracker: newTracker(),
		sampler: logging.NewProgressSampler(5),
	}
}

func (l *Log) NewTask(id, stage string) {
	l.tracker.start(id, stage)
	l.logger.Debug("task started", logging.String("task", id), logging.String(logging.FieldStage, stage))
}

func (l *Log) StartEncode(id string, total, initial int) {
	l.tracker.count(id, total, initial)
	l.logger.Info("frame counting started",
		logging.String("task", id),
		logging.Int("total_frames", total),
		logging.Int("resumed_frames", initial),
	)
}

func (l *Log) FrameDelta(id string, n int) {
	stage, agg := l.tracker.add(id, n)
	l.mu.Lock()
	emit := l.sampler.ShouldLog(agg.Percent(), stage)
	l.mu.Unlock()
	if !emit {
		return
	}
	l.logger.Info("progress",
		logging.String("task", id),
		logging.String(logging.FieldStage, stage),
		logging.Int("frames", agg.Done),
		logging.Int("total_frames", agg.Total),
		logging.Float64("percent", agg.Percent()),
		logging.Float64("fps", agg.FPS),
		logging.Duration("eta", agg.ETA.Round(time.Second)),
	)
}

func (l *Log) Finished(id string, ok bool) {
	stage, agg, elapsed := l.tracker.finish(id)
	l.mu.Lock()
	l.sampler.Reset()
	l.mu.Unlock()
	l.logger.Info("task finished",
		logging.String("task", id),
		logging.String(logging.FieldStage, stage),
		logging.Bool("ok", ok),
		logging.Int("frames", agg.Done),
		logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
	)
}
