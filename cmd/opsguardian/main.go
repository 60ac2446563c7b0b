package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clawinfra/opsguardian/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "opsguardian",
		Short:        "Command guardrail and approval workflow for an SRE agent",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newApprovalsCmd(opts),
		newClassifyCmd(opts),
		newTokenCmd(opts),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "OpsGuardian v%s (built %s)\n", version, buildTime)
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server, watchdog and scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.configPath, cmd.OutOrStdout())
		},
	}
}

// serve loads the config, wires the application and runs it until ctx ends.
func serve(ctx context.Context, configPath string, out io.Writer) error {
	level := new(slog.LevelVar)
	logger := newLogger(out, "text", level)
	logger.Info("starting OpsGuardian", "version", version, "config", configPath)

	store, err := config.Open(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := store.Get()

	// Recreate logger with config's log level and format
	level.Set(parseLogLevel(cfg.Server.LogLevel))
	logger = newLogger(out, cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	app, err := newApp(ctx, store, logger, level)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	defer app.Close()

	printBanner(out, cfg)

	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("OpsGuardian stopped")
	return nil
}

// printBanner displays the startup banner
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, bannerStyle.Render("OpsGuardian v"+version))
	fmt.Fprintf(w, "  API:        http://localhost:%d\n", cfg.Server.Port)
	fmt.Fprintf(w, "  Dashboard:  %s\n", cfg.Server.FrontendURL)
	fmt.Fprintf(w, "  Monitors:   %d configured\n", len(cfg.Monitors))
	fmt.Fprintf(w, "  Watchdog:   %s\n", enabledLabel(cfg.Watchdog.Enabled))
	fmt.Fprintf(w, "  Scheduler:  %s (%d jobs)\n", enabledLabel(cfg.Scheduler.Enabled), len(cfg.Scheduler.Jobs))
	fmt.Fprintln(w)
}

func enabledLabel(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
