package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"qencode/internal/logging"
)

const clearLine = "\r\x1b[2K"

// Console renders progress for a human. On a terminal the counted task is
// redrawn in place; elsewhere a line is written per 10% step.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	live    bool
	drawn   bool
	tracker *tracker
	sampler *logging.ProgressSampler
}

// NewConsole returns a console sink writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:     out,
		live:    isTerminal(out),
		tracker: newTracker(),
		sampler: logging.NewProgressSampler(10),
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (c *Console) NewTask(id, stage string) {
	c.tracker.start(id, stage)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	fmt.Fprintf(c.out, "%s...\n", formatStageLabel(stage))
}

func (c *Console) StartEncode(id string, total, initial int) {
	c.tracker.count(id, total, initial)
	if initial <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	fmt.Fprintf(c.out, "Resuming at %s/%s frames\n", humanize.Comma(int64(initial)), humanize.Comma(int64(total)))
}

func (c *Console) FrameDelta(id string, n int) {
	stage, agg := c.tracker.add(id, n)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live {
		fmt.Fprint(c.out, clearLine+formatProgressLine(stage, agg))
		c.drawn = true
		return
	}
	if c.sampler.ShouldLog(agg.Percent(), stage) {
		fmt.Fprintln(c.out, formatProgressLine(stage, agg))
	}
}

func (c *Console) Finished(id string, ok bool) {
	stage, agg, elapsed := c.tracker.finish(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	c.sampler.Reset()
	status := "done"
	if !ok {
		status = "failed"
	}
	line := fmt.Sprintf("%s %s", formatStageLabel(stage), status)
	if agg.Total > 0 {
		line += fmt.Sprintf(": %s/%s frames", humanize.Comma(int64(agg.Done)), humanize.Comma(int64(agg.Total)))
	}
	if d := formatETA(elapsed); d != "" {
		line += " in " + d
	}
	fmt.Fprintln(c.out, line)
}

func (c *Console) clear() {
	if c.drawn {
		fmt.Fprint(c.out, clearLine)
		c.drawn = false
	}
}

func formatProgressLine(stage string, agg Aggregate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %5.1f%%", formatStageLabel(stage), agg.Percent())
	if agg.Total > 0 {
		fmt.Fprintf(&b, "  %s/%s frames", humanize.Comma(int64(agg.Done)), humanize.Comma(int64(agg.Total)))
	}
	if agg.FPS > 0 {
		fmt.Fprintf(&b, "  %s fps", humanize.FtoaWithDigits(agg.FPS, 1))
	}
	if eta := formatETA(agg.ETA); eta != "" {
		fmt.Fprintf(&b, "  ETA %s", eta)
	}
	return b.String()
}

var titleCaser = cases.Title(language.English)

func formatStageLabel(stage string) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return "Progress"
	}
	parts := strings.FieldsFunc(stage, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
	return titleCaser.String(strings.Join(parts, " "))
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	d = d.Round(time.Second)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	parts := make([]string, 0, 3)
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || (hours == 0 && minutes == 0) {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, "")
}
