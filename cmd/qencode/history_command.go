package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"qencode/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var dbPath string
	var limit int
	var jsonOut bool

	open := func() (*history.Store, error) {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			cfg, _, _, err := ctx.loadConfig()
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			path = cfg.History.Path
		}
		if path == "" {
			return nil, errors.New("history is disabled (history.path is empty)")
		}
		return history.Open(path)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded encoding runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRuns(runs))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database path (default from config)")
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			chunks, err := store.Chunks(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, struct {
					Run    history.Run     `json:"run"`
					Chunks []history.Chunk `json:"chunks"`
				}{run, chunks})
			}
			printRun(cmd, run, chunks)
			return nil
		},
	})

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", removed)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age cutoff")
	cmd.AddCommand(prune)

	return cmd
}

func renderRuns(runs []history.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			shortID(r.ID),
			humanize.Time(r.StartedAt),
			r.Status,
			r.Encoder,
			strconv.Itoa(r.Chunks),
			progressCell(r.DoneFrames, r.TotalFrames),
			durationCell(r.Duration()),
			r.SourcePath,
		})
	}
	return renderTable(
		[]string{"ID", "Started", "Status", "Encoder", "Chunks", "Frames", "Took", "Source"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}

func printRun(cmd *cobra.Command, run history.Run, chunks []history.Chunk) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.ID)
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Source:   %s\n", run.SourcePath)
	fmt.Fprintf(out, "Output:   %s\n", run.OutputPath)
	fmt.Fprintf(out, "Encoder:  %s (%s)\n", run.Encoder, run.QualityMode)
	fmt.Fprintf(out, "Resumed:  %s\n", yesNo(run.Resumed))
	fmt.Fprintf(out, "Workers:  %d\n", run.Workers)
	fmt.Fprintf(out, "Frames:   %s\n", progressCell(run.DoneFrames, run.TotalFrames))
	fmt.Fprintf(out, "Started:  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if d := run.Duration(); d > 0 {
		fmt.Fprintf(out, "Took:     %s\n", durationCell(d))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.Error)
	}
	if len(chunks) == 0 {
		return
	}
	rows := make([][]string, 0, len(chunks))
	for _, c := range chunks {
		cq := "-"
		if c.CQ >= 0 {
			cq = strconv.Itoa(c.CQ)
		}
		rows = append(rows, []string{c.Name, c.Result, strconv.Itoa(c.Frames), cq, c.Reason, durationCell(c.Elapsed), c.Error})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Chunk", "Result", "Frames", "CQ", "Reason", "Took", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft},
	))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func progressCell(done, total int) string {
	return humanize.Comma(int64(done)) + "/" + humanize.Comma(int64(total))
}

func durationCell(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
