package encoding

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"qencode/internal/config"
	"qencode/internal/media/ffmpeg"
	"qencode/internal/planner"
	"qencode/internal/quality"
	"qencode/internal/workdir"
)

// vp8MinCQ is the lowest cq-level vpxenc accepts for VP8.
const vp8MinCQ = 4

// Command is one pass: an ffmpeg decoder piped into the encoder.
type Command struct {
	Pass    int
	Decoder []string
	Encoder []string
}

// Final reports whether this pass writes the real output.
func (c Command) Final(job Job) bool {
	return c.Pass == len(job.Commands)
}

// Job is the complete, immutable command set for one chunk.
type Job struct {
	Chunk    planner.Chunk
	Decision quality.Decision
	Commands []Command
}

// Builder assembles encoder commands from configuration.
type Builder struct {
	cfg    *config.Config
	layout workdir.Layout
}

// NewBuilder returns a Builder.
func NewBuilder(cfg *config.Config, layout workdir.Layout) *Builder {
	return &Builder{cfg: cfg, layout: layout}
}

// Build returns the one- or two-pass job for chunk.
func (b *Builder) Build(chunk planner.Chunk, decision quality.Decision) (Job, error) {
	flags, err := b.VideoFlags(decision)
	if err != nil {
		return Job{}, fmt.Errorf("build flags for chunk %s: %w", chunk.Name, err)
	}
	decoder := ffmpeg.DecodeArgs(b.cfg.Tools.FFmpeg, chunk.SourcePath, b.cfg.Encoder.PixelFormat,
		strings.Fields(b.cfg.Encoder.FFmpegFilters))
	binary := b.cfg.EncoderBinary()
	output := chunk.EncodePath
	if output == "" {
		output = b.layout.EncodedChunk(chunk.Name)
	}

	job := Job{Chunk: chunk, Decision: decision}
	if !b.cfg.TwoPass() {
		enc := append([]string{binary, "--passes=1"}, flags...)
		enc = append(enc, "-o", output, "-")
		job.Commands = []Command{{Pass: 1, Decoder: decoder, Encoder: enc}}
		return job, nil
	}

	stats := b.layout.StatsFile(chunk.Name)
	first := append([]string{binary, "--passes=2", "--pass=1"}, flags...)
	first = append(first, "--fpf="+stats, "-o", os.DevNull, "-")
	second := append([]string{binary, "--passes=2", "--pass=2"}, flags...)
	second = append(second, "--fpf="+stats, "-o", output, "-")
	job.Commands = []Command{
		{Pass: 1, Decoder: decoder, Encoder: first},
		{Pass: 2, Decoder: append([]string(nil), decoder...), Encoder: second},
	}
	return job, nil
}

// VideoFlags returns the encoder flags shared by every pass.
func (b *Builder) VideoFlags(decision quality.Decision) ([]string, error) {
	enc := b.cfg.Encoder
	flags := []string{"--threads=" + strconv.Itoa(max(enc.Threads, 1))}
	if enc.KFMaxDist > 0 {
		flags = append(flags, "--kf-max-dist="+strconv.Itoa(enc.KFMaxDist))
	}
	switch enc.Name {
	case config.EncoderAOM:
		flags = append(flags, "--tile-columns=1", "--tile-rows=0")
	case config.EncoderVP9:
		flags = append(flags, "--tile-columns=1", "--tile-rows=0", "--codec=vp9")
	case config.EncoderVP8:
		flags = append(flags, "--codec=vp8")
	default:
		return nil, fmt.Errorf("unsupported encoder %q", enc.Name)
	}
	flags = append(flags, "--cpu-used="+strconv.Itoa(enc.Speed))
	if enc.Realtime {
		flags = append(flags, "--rt")
	} else {
		flags = append(flags, "--good")
	}
	flags = append(flags, rateControl(enc.Name, decision)...)

	chroma := chromaFlag(enc.PixelFormat)
	if enc.Name != config.EncoderVP8 {
		flags = append(flags, "--bit-depth="+strconv.Itoa(enc.BitDepth))
		if enc.BitDepth > 8 {
			flags = append(flags, "--input-bit-depth="+strconv.Itoa(inputBitDepth(enc.PixelFormat)))
		}
		if profile := profileFlag(enc.Name, enc.BitDepth, chroma); profile != "" {
			flags = append(flags, profile)
		}
	}
	flags = append(flags, colorFlags(enc.Name, enc.ColorSpace, enc.ColorParams)...)
	flags = append(flags, chroma)
	flags = append(flags, strings.Fields(enc.Params)...)
	return flags, nil
}

func rateControl(name config.EncoderName, d quality.Decision) []string {
	if d.Mode == config.QualityBitrate {
		return []string{"--end-usage=vbr", "--target-bitrate=" + strconv.Itoa(d.BitrateKbps)}
	}
	cq := d.CQ
	if name == config.EncoderVP8 && cq < vp8MinCQ {
		cq = vp8MinCQ
	}
	flags := []string{"--end-usage=q", "--cq-level=" + strconv.Itoa(cq)}
	if d.CQ == 0 && name != config.EncoderVP8 {
		flags = append(flags, "--lossless=1")
	}
	return flags
}

func chromaFlag(pixelFormat string) string {
	switch {
	case strings.HasPrefix(pixelFormat, "yuv444"):
		return "--i444"
	case strings.HasPrefix(pixelFormat, "yuv422"):
		return "--i422"
	default:
		return "--i420"
	}
}

func inputBitDepth(pixelFormat string) int {
	if strings.Contains(pixelFormat, "10") {
		return 10
	}
	return 8
}

func profileFlag(name config.EncoderName, bitDepth int, chroma string) string {
	switch name {
	case config.EncoderVP9:
		profile := 0
		if chroma != "--i420" {
			profile = 1
		}
		if bitDepth > 8 {
			profile += 2
		}
		if profile == 0 {
			return ""
		}
		return "--profile=" + strconv.Itoa(profile)
	case config.EncoderAOM:
		switch chroma {
		case "--i444":
			return "--profile=1"
		case "--i422":
			return "--profile=2"
		}
	}
	return ""
}

var aomColor = map[string][]string{
	"bt709":  {"--color-primaries=bt709", "--transfer-characteristics=bt709", "--matrix-coefficients=bt709"},
	"bt601":  {"--color-primaries=bt601", "--transfer-characteristics=bt601", "--matrix-coefficients=bt601"},
	"bt2020": {"--color-primaries=bt2020", "--transfer-characteristics=smpte2084", "--matrix-coefficients=bt2020ncl"},
}

func colorFlags(name config.EncoderName, space, custom string) []string {
	if space == "custom" {
		return strings.Fields(custom)
	}
	if name == config.EncoderAOM {
		return aomColor[space]
	}
	if name == config.EncoderVP8 {
		return nil
	}
	if space == "" {
		space = "unknown"
	}
	return []string{"--color-space=" + space}
}
