package procgroup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var commandContext = exec.CommandContext

// waitDelay bounds how long Wait blocks on inherited pipes after the group is killed.
const waitDelay = 5 * time.Second

// Command returns a command that runs as the leader of a new process group.
// Cancelling ctx sends SIGKILL to the whole group rather than just the leader.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := commandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return KillGroup(cmd) }
	cmd.WaitDelay = waitDelay
	return cmd
}

// KillGroup sends SIGKILL to the process group led by cmd.
func KillGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// ScanLines is a bufio.SplitFunc that treats '\r' and '\n' as line breaks.
// Encoders redraw their status line with carriage returns.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// StreamLines reads r with ScanLines and invokes fn for every non-empty line.
func StreamLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	scanner.Split(ScanLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || fn == nil {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// Pipe runs `decoder | encoder`. Both commands get their own process group.
type Pipe struct {
	Decoder *exec.Cmd
	Encoder *exec.Cmd
}

// NewPipe builds a decoder/encoder pair. The first element of each argv is the binary.
func NewPipe(ctx context.Context, decoder, encoder []string) (*Pipe, error) {
	if len(decoder) == 0 || len(encoder) == 0 {
		return nil, errors.New("procgroup: empty pipe command")
	}
	return &Pipe{
		Decoder: Command(ctx, decoder[0], decoder[1:]...),
		Encoder: Command(ctx, encoder[0], encoder[1:]...),
	}, nil
}

// Run starts both commands, streams the encoder's stderr lines to onLine, and
// waits for both to exit. A failure in either side is an error, so a decoder
// crash cannot masquerade as a short but successful encode.
func (p *Pipe) Run(onLine func(string)) error {
	reader, writer, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create pipe: %w", err)
	}

	decoderErr := newTailBuffer(4096)
	p.Decoder.Stdout = writer
	p.Decoder.Stderr = decoderErr
	p.Encoder.Stdin = reader
	encoderStderr, err := p.Encoder.StderrPipe()
	if err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("encoder stderr pipe: %w", err)
	}
	encoderTail := newTailBuffer(4096)

	if err := p.Decoder.Start(); err != nil {
		reader.Close()
		writer.Close()
		return fmt.Errorf("start %s: %w", p.Decoder.Path, err)
	}
	if err := p.Encoder.Start(); err != nil {
		reader.Close()
		writer.Close()
		_ = KillGroup(p.Decoder)
		_ = p.Decoder.Wait()
		return fmt.Errorf("start %s: %w", p.Encoder.Path, err)
	}
	// The children hold their own copies of the pipe ends.
	reader.Close()
	writer.Close()

	streamErr := StreamLines(io.TeeReader(encoderStderr, encoderTail), onLine)

	encErr := p.Encoder.Wait()
	if encErr != nil {
		// Stop a decoder still blocked writing into a dead encoder.
		_ = KillGroup(p.Decoder)
	}
	decErr := p.Decoder.Wait()

	switch {
	case encErr != nil:
		return commandError(p.Encoder, encErr, encoderTail.String())
	case decErr != nil:
		return commandError(p.Decoder, decErr, decoderErr.String())
	case streamErr != nil:
		return fmt.Errorf("read encoder output: %w", streamErr)
	}
	return nil
}

func commandError(cmd *exec.Cmd, err error, stderr string) error {
	name := cmd.Path
	if len(cmd.Args) > 0 {
		name = cmd.Args[0]
	}
	if stderr == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, lastLine(stderr))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
