package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"notescribe/internal/config"
	"notescribe/internal/deps"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			command := ""
			if cfg.Estimator.Kind == config.EstimatorExternal {
				command = cfg.Estimator.Command
			}
			statuses := deps.Tools(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, command)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, s := range statuses {
				kind := statusOK
				msg := s.Command
				if !s.Available {
					kind = statusError
					if s.Optional {
						kind = statusWarn
					}
					msg = strings.TrimSpace(s.Detail)
				}
				fmt.Fprintln(out, renderStatusLine(s.Name, kind, msg, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Secondary estimator", statusInfo, cfg.Estimator.Kind, colorize))

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
}
