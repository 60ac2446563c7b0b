package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawinfra/opsguardian/internal/config"
	"github.com/clawinfra/opsguardian/internal/guardrail"
)

func newClassifyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <command...>",
		Short: "Show whether a command would run unattended or need approval",
		Example: `  opsguardian classify ls -la /var/log
  opsguardian classify "cat app.log | grep ERROR"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			guard := guardrail.New(guardrail.Options{
				SafeCommands: cfg.Guardrail.SafeCommands,
				Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			})

			command := strings.Join(args, " ")
			verdict, err := guard.Classify(command)
			if err != nil {
				return fmt.Errorf("classify %q: %w", command, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", renderVerdict(verdict), command)
			return nil
		},
	}
	// Everything after the first word belongs to the classified command.
	cmd.Flags().SetInterspersed(false)
	return cmd
}
