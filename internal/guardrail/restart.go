package guardrail

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/clawinfra/opsguardian/internal/pipeline"
)

// ErrRestartNotConfigured is returned when no restart command is set.
var ErrRestartNotConfigured = errors.New("guardrail: no restart command configured")

// CommandRestarter restarts a service by running a configured command
// line through the pipeline executor.
type CommandRestarter struct {
	runner  pipeline.Runner
	command func() string
	logger  *slog.Logger
}

// NewCommandRestarter creates a restarter. command is read on every restart.
func NewCommandRestarter(runner pipeline.Runner, command func() string, logger *slog.Logger) *CommandRestarter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRestarter{runner: runner, command: command, logger: logger.With("component", "restart")}
}

// Restart runs the restart command.
func (r *CommandRestarter) Restart(ctx context.Context, reason string) (string, error) {
	command := strings.TrimSpace(r.command())
	if command == "" {
		return "", ErrRestartNotConfigured
	}
	r.logger.Warn("restarting service", "command", command, "reason", reason)

	res, err := r.runner.Run(ctx, command)
	out := pipeline.Describe(res, err)
	if err != nil {
		return "", errors.New(out)
	}
	if out == "" {
		out = "Service restarted."
	}
	return out, nil
}
