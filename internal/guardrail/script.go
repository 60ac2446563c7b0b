package guardrail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/clawinfra/opsguardian/internal/pipeline"
)

const (
	// DefaultInterpreter runs approved scripts.
	DefaultInterpreter = "python3"
	// DefaultScriptTimeout bounds a single script run.
	DefaultScriptTimeout = 30 * time.Second

	scriptWaitDelay = 2 * time.Second
)

// ScratchSpace creates temporary files inside the sandbox.
type ScratchSpace interface {
	Root() string
	CreateScratch(tag, ext, content string) (path string, cleanup func(), err error)
}

// ScriptRunner writes a script into the sandbox, runs it under an
// interpreter and always removes it afterwards.
type ScriptRunner struct {
	scratch     ScratchSpace
	interpreter string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewScriptRunner creates a runner. Empty interpreter or zero timeout use
// the defaults.
func NewScriptRunner(scratch ScratchSpace, interpreter string, timeout time.Duration, logger *slog.Logger) *ScriptRunner {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptRunner{
		scratch:     scratch,
		interpreter: interpreter,
		timeout:     timeout,
		logger:      logger.With("component", "script"),
	}
}

// RunScript returns the combined stdout and stderr of the script.
func (s *ScriptRunner) RunScript(ctx context.Context, id, content string) (string, error) {
	path, cleanup, err := s.scratch.CreateScratch(id, scriptExt(s.interpreter), content)
	if err != nil {
		return "", err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.interpreter, path)
	cmd.Dir = s.scratch.Root()
	cmd.WaitDelay = scriptWaitDelay
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err = cmd.Run()
	s.logger.Info("script finished", "id", id, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)

	switch {
	case err == nil:
		return out.String(), nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return out.String(), pipeline.ErrTimeout
	case errors.Is(err, exec.ErrNotFound):
		return "", fmt.Errorf("interpreter %s: %w", s.interpreter, pipeline.ErrNotFound)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// A failing script is still a completed run; its output explains why.
		return out.String(), nil
	}
	return out.String(), err
}

func scriptExt(interpreter string) string {
	switch filepath.Base(interpreter) {
	case "python", "python3":
		return ".py"
	case "bash", "sh":
		return ".sh"
	default:
		return ""
	}
}
