package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qencode/internal/config"
	"qencode/internal/joblog"
	"qencode/internal/workdir"
)

func newLogsCommand() *cobra.Command {
	var lines int
	var follow bool
	var raw bool
	var filter joblog.Filter

	cmd := &cobra.Command{
		Use:   "logs <temp-dir>",
		Short: "Show the log of a job from its temp directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			path := workdir.New(dir).LogPath()
			out := cmd.OutOrStdout()
			emit := func(batch []string) {
				for _, line := range batch {
					if raw {
						fmt.Fprintln(out, line)
						continue
					}
					rec := joblog.Parse(line)
					if filter.Match(rec) {
						fmt.Fprintln(out, joblog.Format(rec))
					}
				}
			}

			res, err := joblog.Tail(cmd.Context(), path, joblog.TailOptions{Offset: -1, Limit: lines})
			if err != nil {
				return err
			}
			emit(res.Lines)
			for follow {
				res, err = joblog.Tail(cmd.Context(), path, joblog.TailOptions{Offset: res.Offset, Wait: time.Second})
				if err != nil {
					if errors.Is(err, cmd.Context().Err()) {
						return nil
					}
					return err
				}
				emit(res.Lines)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON lines unchanged")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level to show")
	cmd.Flags().StringVar(&filter.Chunk, "chunk", "", "Only show records for this chunk")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "Only show records for this stage")
	return cmd
}
