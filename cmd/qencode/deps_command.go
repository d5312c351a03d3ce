package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"qencode/internal/config"
	"qencode/internal/deps"
	"qencode/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	var encoder string
	var qualityMode string

	cmd := &cobra.Command{
		Use:   "deps",
		Short: "Check that the external tools are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := ctx.loadConfig(func(c *config.Config) {
				if encoder != "" {
					c.Encoder.Name = config.EncoderName(encoder)
				}
				if qualityMode != "" {
					c.Quality.Mode = config.QualityMode(qualityMode)
				}
			})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			statuses := preflight.CheckSystemDeps(cmd.Context(), cfg)
			fmt.Fprintln(cmd.OutOrStdout(), renderDeps(statuses))
			if missing := deps.Missing(statuses); len(missing) > 0 {
				names := make([]string, 0, len(missing))
				for _, m := range missing {
					names = append(names, m.Name)
				}
				return fmt.Errorf("missing required tools: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&encoder, "encoder", "e", "", "Check for this encoder instead of the configured one")
	cmd.Flags().StringVar(&qualityMode, "quality-mode", "", "Check requirements for this quality mode")
	return cmd
}

func renderDeps(statuses []deps.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := "ok"
		switch {
		case !s.Available && s.Optional:
			state = "optional, missing"
		case !s.Available:
			state = "MISSING"
		}
		detail := s.Command
		if s.Detail != "" {
			detail = s.Detail
		}
		rows = append(rows, []string{s.Name, state, detail, s.Description})
	}
	return renderTable([]string{"Tool", "State", "Command", "Used for"}, rows, nil)
}
