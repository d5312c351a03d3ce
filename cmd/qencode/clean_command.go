package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qencode/internal/config"
	"qencode/internal/logging"
	"qencode/internal/workdir"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean <dir>",
		Short: "Remove stale temp_* job directories under dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			logger := logging.NewNop()
			if cfg, _, _, err := ctx.loadConfig(); err == nil {
				if l, err := logging.NewFromConfig(cfg, ""); err == nil {
					logger = l
				}
			}
			result := workdir.CleanStale(cmd.Context(), dir, maxAge, logger)
			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "removed %s\n", path)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "Removed %d stale directories\n", len(result.Removed))
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d directories could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "older-than", 7*24*time.Hour, "Only remove directories idle for at least this long")
	return cmd
}
