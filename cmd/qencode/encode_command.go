package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"qencode/internal/config"
	"qencode/internal/history"
	"qencode/internal/logging"
	"qencode/internal/pipeline"
	"qencode/internal/progress"
	"qencode/internal/services"
)

type encodeFlags struct {
	source        string
	output        string
	tempDir       string
	encoder       string
	params        string
	passes        int
	workers       int
	resume        bool
	keepTemp      bool
	noCheck       bool
	split         string
	matchWorkers  bool
	qualityMode   string
	cq            int
	bitrate       int
	target        float64
	audio         string
	logLevel      string
	metricsListen string
	noHistory     bool
	progress      string
}

func newEncodeCommand(ctx *commandContext) *cobra.Command {
	var flags encodeFlags

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Split, encode, and reassemble a video",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := ctx.loadConfig(flags.overrides(cmd))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.RequireMedia(); err != nil {
				return err
			}
			return runEncode(cmd, cfg, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.source, "input", "i", "", "Source video")
	f.StringVarP(&flags.output, "output", "o", "", "Output file")
	f.StringVar(&flags.tempDir, "temp", "", "Temp directory (default temp_<output> next to the output)")
	f.StringVarP(&flags.encoder, "encoder", "e", "", "Encoder: aom, vpx-vp9, or vpx-vp8")
	f.StringVarP(&flags.params, "video-params", "v", "", "Extra encoder flags")
	f.IntVarP(&flags.passes, "passes", "p", 0, "Encoder passes (1 or 2)")
	f.IntVarP(&flags.workers, "workers", "w", 0, "Parallel encoders (0 sizes from CPU and memory)")
	f.BoolVarP(&flags.resume, "resume", "r", false, "Resume from an existing temp directory")
	f.BoolVarP(&flags.keepTemp, "keep", "k", false, "Keep the temp directory after success")
	f.BoolVar(&flags.noCheck, "no-check", false, "Skip frame count verification")
	f.StringVar(&flags.split, "split-method", "", "Split strategy: content, keyframe-safe, fixed-interval, or none")
	f.BoolVar(&flags.matchWorkers, "match-workers", false, "Plan exactly one chunk per worker")
	f.StringVar(&flags.qualityMode, "quality-mode", "", "Rate control: fixed-cq, bitrate, or target-metric")
	f.IntVar(&flags.cq, "cq", -1, "Constant quality level")
	f.IntVar(&flags.bitrate, "bitrate", 0, "Target video bitrate in kbps")
	f.Float64Var(&flags.target, "target-quality", 0, "Target VMAF score")
	f.StringVarP(&flags.audio, "audio", "a", "", "Audio handling: copy, opus, or none")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&flags.metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&flags.noHistory, "no-history", false, "Do not record the run in the history database")
	f.StringVar(&flags.progress, "progress", "console", "Progress output: console, log, or none")
	return cmd
}

// overrides maps explicitly set flags onto the loaded config.
func (f encodeFlags) overrides(cmd *cobra.Command) config.Override {
	changed := cmd.Flags().Changed
	return func(c *config.Config) {
		if changed("input") {
			c.Paths.Source = f.source
		}
		if changed("output") {
			c.Paths.Output = f.output
		}
		if changed("temp") {
			c.Paths.TempDir = f.tempDir
		}
		if changed("encoder") {
			c.Encoder.Name = config.EncoderName(f.encoder)
		}
		if changed("video-params") {
			c.Encoder.Params = f.params
		}
		if changed("passes") {
			c.Encoder.Passes = f.passes
		}
		if changed("workers") {
			c.Workers.Count = f.workers
		}
		if changed("resume") {
			c.Workers.Resume = f.resume
		}
		if changed("keep") {
			c.Workers.KeepTemp = f.keepTemp
		}
		if changed("no-check") {
			c.Workers.NoCheck = f.noCheck
		}
		if changed("split-method") {
			c.Split.Strategy = config.SplitStrategy(f.split)
		}
		if changed("match-workers") {
			c.Split.MatchWorkers = f.matchWorkers
		}
		if changed("quality-mode") {
			c.Quality.Mode = config.QualityMode(f.qualityMode)
		}
		if changed("cq") {
			c.Quality.CQ = f.cq
		}
		if changed("bitrate") {
			c.Quality.BitrateKbps = f.bitrate
		}
		if changed("target-quality") {
			c.Quality.Target = f.target
		}
		if changed("audio") {
			c.Audio.Mode = config.AudioMode(f.audio)
		}
		if changed("log-level") {
			c.Logging.Level = f.logLevel
		}
		if changed("metrics-listen") {
			c.Metrics.Listen = f.metricsListen
		}
		if f.noHistory {
			c.History.Path = ""
		}
	}
}

func runEncode(cmd *cobra.Command, cfg *config.Config, flags encodeFlags) error {
	logger, err := logging.NewFromConfig(cfg, "")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	sink, err := progressSink(flags.progress, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	opts := pipeline.Options{Logger: logger, LogFile: true, Sink: sink}
	if path := strings.TrimSpace(cfg.History.Path); path != "" {
		store, err := history.Open(path)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "this run will not be recorded"),
			)
		} else {
			defer store.Close()
			opts.History = store
		}
	}

	job := pipeline.New(cfg, opts)
	stop := cancelOnSignal(cmd.Context(), job, cmd.ErrOrStderr())
	defer stop()

	res, err := job.Run(cmd.Context())
	out := cmd.OutOrStdout()
	switch {
	case err == nil:
		fmt.Fprintf(out, "Encoded %s frames in %d chunks to %s (%s)\n",
			humanize.Comma(int64(res.Frames)), res.Chunks, res.Output, res.Elapsed.Round(time.Second))
	case res.Status == services.OutcomeIncomplete:
		fmt.Fprintf(out, "Encoded %s of %s frames; rerun with --resume to finish (temp dir %s)\n",
			humanize.Comma(int64(res.Done)), humanize.Comma(int64(res.Frames)), cfg.Paths.TempDir)
	}
	return err
}

func progressSink(mode string, out io.Writer, logger *slog.Logger) (progress.Sink, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "console":
		return progress.NewConsole(out), nil
	case "log":
		return progress.NewLog(logger), nil
	case "none":
		return progress.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown progress mode %q (want console, log, or none)", mode)
	}
}

// cancelOnSignal requests a graceful stop on the first SIGINT/SIGTERM and
// exits immediately on the second.
func cancelOnSignal(ctx context.Context, job *pipeline.Job, errOut io.Writer) func() {
	if ctx == nil {
		ctx = context.Background()
	}
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		requested := false
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				job.RequestCancel()
				return
			case <-signals:
				if requested {
					fmt.Fprintln(errOut, "forced exit")
					os.Exit(130)
				}
				requested = true
				fmt.Fprintln(errOut, "cancelling; press Ctrl-C again to exit immediately")
				job.RequestCancel()
			}
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}
