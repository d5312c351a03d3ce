package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"qencode/internal/logging"
	"qencode/internal/procgroup"
)

// Runner executes ffmpeg.
type Runner struct {
	binary string
	logger *slog.Logger
}

// Output holds the captured streams of a finished command.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// New returns a Runner for the given ffmpeg binary.
func New(binary string, logger *slog.Logger) *Runner {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Runner{binary: binary, logger: logging.NewComponentLogger(logger, "ffmpeg")}
}

// Binary returns the configured ffmpeg executable.
func (r *Runner) Binary() string {
	return r.binary
}

// Run executes ffmpeg with -hide_banner -nostdin prepended to args.
func (r *Runner) Run(ctx context.Context, args ...string) (Output, error) {
	full := append([]string{"-hide_banner", "-nostdin"}, args...)
	cmd := procgroup.Command(ctx, r.binary, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running ffmpeg", logging.String("args", strings.Join(full, " ")))
	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		return out, commandError(ctx, err, stderr.String())
	}
	return out, nil
}

// stream runs ffmpeg and hands every stderr line to fn as it arrives. Used for
// analysis passes whose debug output is too large to buffer.
func (r *Runner) stream(ctx context.Context, fn func(string), args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin"}, args...)
	cmd := procgroup.Command(ctx, r.binary, full...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	r.logger.Debug("running ffmpeg", logging.String("args", strings.Join(full, " ")))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var tail []string
	streamErr := procgroup.StreamLines(stderr, func(line string) {
		if len(tail) == 3 {
			tail = tail[1:]
		}
		tail = append(tail, line)
		fn(line)
	})
	if err := cmd.Wait(); err != nil {
		return commandError(ctx, err, strings.Join(tail, "\n"))
	}
	if streamErr != nil {
		return fmt.Errorf("read ffmpeg output: %w", streamErr)
	}
	return nil
}

func commandError(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ffmpeg: %w", ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if detail := lastLines(stderr, 3); detail != "" {
			return fmt.Errorf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), detail)
		}
		return fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
	}
	return fmt.Errorf("ffmpeg: %w", err)
}

func lastLines(s string, n int) string {
	lines := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool { return r == '\n' || r == '\r' })
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
