package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"qencode/internal/config"
	"qencode/internal/fileutil"
	"qencode/internal/logging"
	"qencode/internal/procgroup"
	"qencode/internal/quality"
	"qencode/internal/services"
)

const stageName = "encode"

// FrameCounter counts the frames of a media file.
type FrameCounter interface {
	CountFrames(ctx context.Context, path string) (int, error)
}

// Recorder persists verified chunk completions.
type Recorder interface {
	RecordComplete(name string, frames int) error
}

// ProgressFunc receives the frames encoded so far for the running chunk.
type ProgressFunc func(frames int)

// Result describes one finished chunk encode.
type Result struct {
	Name string
	// SourceFrames and EncodedFrames are equal when Verified is set.
	SourceFrames  int
	EncodedFrames int
	// Verified is set when the chunk was recorded in the ledger.
	Verified bool
	Decision quality.Decision
	Elapsed  time.Duration
}

// FPS returns the encode throughput.
func (r Result) FPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.EncodedFrames) / r.Elapsed.Seconds()
}

// Encoder runs jobs and applies the frame-integrity gate.
type Encoder struct {
	counter  FrameCounter
	recorder Recorder
	parser   ProgressParser
	noCheck  bool
	logger   *slog.Logger
}

// NewEncoder constructs an Encoder. A nil parser selects DefaultParser.
func NewEncoder(cfg *config.Config, counter FrameCounter, recorder Recorder, parser ProgressParser, logger *slog.Logger) *Encoder {
	if parser == nil {
		parser = DefaultParser
	}
	return &Encoder{
		counter:  counter,
		recorder: recorder,
		parser:   parser,
		noCheck:  cfg.Workers.NoCheck,
		logger:   logging.NewComponentLogger(logger, "encoder"),
	}
}

// Encode runs every pass of job in order, reporting final-pass progress to
// progress, then verifies the output. A frame-count mismatch is not an error:
// the result comes back unverified and the ledger is left untouched.
func (e *Encoder) Encode(ctx context.Context, slot int, job Job, progress ProgressFunc) (Result, error) {
	chunk := job.Chunk
	logger := e.logger.With(logging.Args(logging.Chunk(chunk.Name), logging.Slot(slot))...)
	result := Result{Name: chunk.Name, SourceFrames: chunk.SourceFrames, Decision: job.Decision}
	start := time.Now()

	logger.Info("encoding chunk",
		logging.Int("frames", chunk.SourceFrames),
		logging.Int("cq", job.Decision.CQ),
		logging.String("quality", job.Decision.Reason),
		logging.Int("passes", len(job.Commands)),
	)
	if err := os.Remove(chunk.EncodePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, services.Wrap(services.ErrExternalTool, stageName, "clear output", chunk.Name, err)
	}

	for _, cmd := range job.Commands {
		var onLine func(string)
		if cmd.Final(job) && progress != nil {
			onLine = func(line string) {
				if n, ok := e.parser.ParseProgress(line); ok {
					progress(n)
				}
			}
		}
		if err := e.runPass(ctx, cmd, onLine); err != nil {
			if ctx.Err() != nil {
				return result, services.Wrap(services.ErrCancelled, stageName, "encode", chunk.Name, ctx.Err())
			}
			return result, services.Wrap(services.ErrExternalTool, stageName,
				fmt.Sprintf("pass %d", cmd.Pass), chunk.Name, err)
		}
	}

	encoded, err := e.verify(ctx, job, logger)
	result.Elapsed = time.Since(start)
	result.EncodedFrames = encoded
	if err != nil {
		return result, err
	}
	if progress != nil {
		progress(encoded)
	}

	if encoded != chunk.SourceFrames && !e.noCheck {
		logging.WarnWithContext(logger, "frame count mismatch", "chunk_frame_mismatch",
			logging.Int("source_frames", chunk.SourceFrames),
			logging.Int("encoded_frames", encoded),
			logging.String(logging.FieldErrorHint, "check encoder parameters and decode filters"),
			logging.String(logging.FieldImpact, "chunk not recorded; it will be re-encoded on resume"),
		)
		return result, nil
	}

	frames := chunk.SourceFrames
	if err := e.recorder.RecordComplete(chunk.Name, frames); err != nil {
		return result, services.Wrap(services.ErrExternalTool, stageName, "record", chunk.Name, err)
	}
	result.Verified = true
	logger.Info("chunk encoded",
		logging.Int("frames", frames),
		logging.Duration("elapsed", result.Elapsed.Round(time.Millisecond)),
		logging.Float64("fps", result.FPS()),
	)
	return result, nil
}

func (e *Encoder) runPass(ctx context.Context, cmd Command, onLine func(string)) error {
	pipe, err := procgroup.NewPipe(ctx, cmd.Decoder, cmd.Encoder)
	if err != nil {
		return err
	}
	return pipe.Run(onLine)
}

// verify returns the encoded frame count. With no_check set it only confirms
// the output exists and trusts the source count. An output without frames is
// always an error.
func (e *Encoder) verify(ctx context.Context, job Job, logger *slog.Logger) (int, error) {
	chunk := job.Chunk
	if !fileutil.NonEmpty(chunk.EncodePath) {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "verify", chunk.Name,
			fmt.Errorf("encoder produced no output at %s", chunk.EncodePath))
	}
	if e.noCheck {
		logger.Debug("frame check skipped")
		return chunk.SourceFrames, nil
	}
	encoded, err := e.counter.CountFrames(ctx, chunk.EncodePath)
	if err != nil {
		if ctx.Err() != nil {
			return 0, services.Wrap(services.ErrCancelled, stageName, "verify", chunk.Name, ctx.Err())
		}
		return 0, services.Wrap(services.ErrExternalTool, stageName, "verify", chunk.Name, err)
	}
	if encoded == 0 {
		return 0, services.Wrap(services.ErrExternalTool, stageName, "verify", chunk.Name,
			errors.New("encoded output has no frames"))
	}
	return encoded, nil
}
