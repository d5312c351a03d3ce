package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"qencode/internal/config"
	"qencode/internal/ledger"
	"qencode/internal/workdir"
)

type statusChunk struct {
	Name   string `json:"name"`
	Done   bool   `json:"done"`
	Frames int    `json:"frames,omitempty"`
}

type statusReport struct {
	TempDir    string        `json:"temp_dir"`
	Running    bool          `json:"running"`
	Total      int           `json:"total_frames"`
	Done       int           `json:"done_frames"`
	Percent    float64       `json:"percent"`
	UsageBytes int64         `json:"usage_bytes"`
	Chunks     []statusChunk `json:"chunks"`
}

func newStatusCommand() *cobra.Command {
	var jsonOut bool
	var showChunks bool

	cmd := &cobra.Command{
		Use:   "status <temp-dir>",
		Short: "Show progress recorded in a job temp directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			report, err := buildStatus(workdir.New(dir))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}
			printStatus(cmd, report, showChunks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&showChunks, "chunks", false, "List every chunk")
	return cmd
}

func buildStatus(layout workdir.Layout) (statusReport, error) {
	state, err := ledger.Read(layout.LedgerPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return statusReport{}, fmt.Errorf("no job found in %s", layout.Root)
		}
		return statusReport{}, fmt.Errorf("read ledger: %w", err)
	}

	report := statusReport{
		TempDir:    layout.Root,
		Total:      state.Total,
		Done:       state.Frames(),
		Percent:    state.Percent(),
		UsageBytes: workdir.Usage(layout.Root),
	}
	if lock, err := workdir.Lock(layout); err != nil {
		report.Running = errors.Is(err, workdir.ErrBusy)
	} else {
		_ = lock.Release()
	}

	names, err := layout.SplitChunks()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return statusReport{}, fmt.Errorf("list chunks: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		frames, done := state.Done[name]
		report.Chunks = append(report.Chunks, statusChunk{Name: name, Done: done, Frames: frames})
		seen[name] = true
	}
	// Split files may already be gone; the ledger still names finished chunks.
	for _, name := range state.Names() {
		if !seen[name] {
			report.Chunks = append(report.Chunks, statusChunk{Name: name, Done: true, Frames: state.Done[name]})
		}
	}
	return report, nil
}

func printStatus(cmd *cobra.Command, report statusReport, showChunks bool) {
	out := cmd.OutOrStdout()
	done := 0
	for _, c := range report.Chunks {
		if c.Done {
			done++
		}
	}
	fmt.Fprintf(out, "Temp dir:  %s\n", report.TempDir)
	fmt.Fprintf(out, "Running:   %s\n", yesNo(report.Running))
	fmt.Fprintf(out, "Progress:  %s/%s frames (%.1f%%)\n",
		humanize.Comma(int64(report.Done)), humanize.Comma(int64(report.Total)), report.Percent)
	fmt.Fprintf(out, "Chunks:    %d/%d encoded\n", done, len(report.Chunks))
	fmt.Fprintf(out, "Disk used: %s\n", humanize.IBytes(uint64(report.UsageBytes)))

	if !showChunks || len(report.Chunks) == 0 {
		return
	}
	rows := make([][]string, 0, len(report.Chunks))
	for _, c := range report.Chunks {
		frames := "-"
		state := "pending"
		if c.Done {
			frames = strconv.Itoa(c.Frames)
			state = "done"
		}
		rows = append(rows, []string{c.Name, state, frames})
	}
	fmt.Fprintln(out, renderTable([]string{"Chunk", "State", "Frames"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
}
