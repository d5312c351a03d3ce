package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"qencode/internal/config"
	"qencode/internal/fileutil"
	"qencode/internal/logging"
	"qencode/internal/media/ffprobe"
	"qencode/internal/planner"
	"qencode/internal/services"
	"qencode/internal/workdir"
)

const stageName = "assemble"

// Media is the subset of ffmpeg.Runner the assembler drives.
type Media interface {
	ExtractAudio(ctx context.Context, src, dst string, codecArgs []string) error
	Concat(ctx context.Context, listPath, audioPath, out string) error
	CountFrames(ctx context.Context, path string) (int, error)
}

// ProbeFunc inspects a media file.
type ProbeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// Assembler owns the audio track and the final mux.
type Assembler struct {
	cfg    *config.Config
	media  Media
	layout workdir.Layout
	probe  ProbeFunc
	logger *slog.Logger
}

// New returns an Assembler probing with ffprobe.Inspect.
func New(cfg *config.Config, media Media, layout workdir.Layout, logger *slog.Logger) *Assembler {
	return &Assembler{
		cfg:    cfg,
		media:  media,
		layout: layout,
		probe:  ffprobe.Inspect,
		logger: logging.NewComponentLogger(logger, "assembler"),
	}
}

// ExtractAudio writes the source audio to the temp directory and returns its
// path. The path is empty when audio is disabled or the source has none. A
// track left by an interrupted run is reused.
func (a *Assembler) ExtractAudio(ctx context.Context) (string, error) {
	if a.cfg.Audio.Mode == config.AudioNone {
		a.logger.Info("audio disabled")
		return "", nil
	}
	dst := a.layout.AudioPath()
	if fileutil.NonEmpty(dst) {
		a.logger.Info("reusing extracted audio", logging.String("path", dst))
		return dst, nil
	}

	info, err := a.probe(ctx, a.cfg.Tools.FFprobe, a.cfg.Paths.Source)
	if err != nil {
		return "", services.Fatal(stageName, "probe audio",
			services.Wrap(services.ErrExternalTool, stageName, "ffprobe", a.cfg.Paths.Source, err))
	}
	if !info.HasAudio() {
		a.logger.Info("source has no audio streams")
		return "", nil
	}

	args := CodecArgs(a.cfg.Audio)
	if err := a.media.ExtractAudio(ctx, a.cfg.Paths.Source, dst, args); err != nil {
		_ = os.Remove(dst)
		if ctx.Err() != nil {
			return "", services.Wrap(services.ErrCancelled, stageName, "extract audio", "", ctx.Err())
		}
		return "", services.Fatal(stageName, "extract audio",
			services.Wrap(services.ErrExternalTool, stageName, "extract audio", "", err))
	}
	a.logger.Info("audio extracted",
		logging.Int("streams", info.AudioStreamCount()),
		logging.String("mode", string(a.cfg.Audio.Mode)),
	)
	return dst, nil
}

// CodecArgs returns the ffmpeg audio codec arguments for cfg. Custom params
// replace the mode's defaults.
func CodecArgs(cfg config.Audio) []string {
	if params := strings.Fields(cfg.Params); len(params) > 0 {
		return params
	}
	if cfg.Mode == config.AudioOpus {
		return []string{"-c:a", "libopus", "-b:a", strconv.Itoa(cfg.BitrateKbps) + "k"}
	}
	return []string{"-c:a", "copy"}
}

// Assemble concatenates the encoded chunks in index order, with audioPath
// muxed in when set, and writes the output file. Every failure is fatal.
func (a *Assembler) Assemble(ctx context.Context, chunks []planner.Chunk, audioPath string) error {
	if len(chunks) == 0 {
		return services.Fatal(stageName, "assemble",
			services.Wrap(services.ErrNotFound, stageName, "assemble", "no chunks", nil))
	}
	ordered := planner.AssemblyOrder(chunks)
	for _, c := range ordered {
		if !fileutil.NonEmpty(c.EncodePath) {
			return services.Fatal(stageName, "assemble",
				services.Wrap(services.ErrNotFound, stageName, "assemble", "missing encoded chunk "+c.Name, nil))
		}
	}

	list := a.layout.ConcatPath()
	if err := fileutil.WriteFileAtomic(list, []byte(ConcatList(ordered)), 0o644); err != nil {
		return services.Fatal(stageName, "write concat list", err)
	}
	output := a.cfg.Paths.Output
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return services.Fatal(stageName, "create output dir", err)
	}

	a.logger.Info("assembling output",
		logging.Int("chunks", len(ordered)),
		logging.Bool("audio", audioPath != ""),
		logging.String("output", output),
	)
	if err := a.media.Concat(ctx, list, audioPath, output); err != nil {
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, stageName, "concat", "", ctx.Err())
		}
		return services.Fatal(stageName, "concat",
			services.Wrap(services.ErrExternalTool, stageName, "concat", "", err))
	}

	if a.cfg.Workers.NoCheck {
		return nil
	}
	want := planner.TotalFrames(ordered)
	got, err := a.media.CountFrames(ctx, output)
	if err != nil {
		return services.Fatal(stageName, "verify output",
			services.Wrap(services.ErrExternalTool, stageName, "count frames", output, err))
	}
	if got != want {
		return services.Fatal(stageName, "verify output",
			services.Wrap(services.ErrValidation, stageName, "frame count",
				fmt.Sprintf("output has %d frames, chunks have %d", got, want), nil))
	}
	a.logger.Info("output verified", logging.Int("frames", got))
	return nil
}

// ConcatList renders chunks as an ffmpeg concat demuxer list.
func ConcatList(chunks []planner.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(c.EncodePath, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// Finish disposes of the temp directory. It is removed only after a
// successful job and only when keep_temp is off; failed jobs always keep it.
func (a *Assembler) Finish(success bool) error {
	switch {
	case !success:
		a.logger.Info("temp directory preserved for inspection", logging.String("path", a.layout.Root))
		return nil
	case a.cfg.Workers.KeepTemp:
		a.logger.Info("temp directory kept", logging.String("path", a.layout.Root))
		return nil
	}
	if err := workdir.Remove(a.layout); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrExternalTool, stageName, "cleanup", "", err)
	}
	a.logger.Info("temp directory removed", logging.String("path", a.layout.Root))
	return nil
}
