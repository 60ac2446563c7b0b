// Package pipeline runs commands and "|" chains of commands as directly
// spawned processes, without a shell, under a hard deadline.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/clawinfra/opsguardian/internal/security"
)

var (
	// ErrEmptySegment is returned when the command or one of its stages has no tokens.
	ErrEmptySegment = errors.New("pipeline: empty command")
	// ErrNotFound is returned when a stage's executable cannot be located.
	ErrNotFound = errors.New("pipeline: command not found")
	// ErrTimeout is returned when the final stage outlives the deadline.
	ErrTimeout = errors.New("pipeline: command timed out")
)

const (
	// DefaultTimeout bounds a single Run when the executor has no timeout.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxOutput caps captured stdout and stderr, each.
	DefaultMaxOutput = 1 << 20

	waitDelay = 2 * time.Second
)

// ExitError reports a final stage that exited with a non-zero code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d: %s", e.Code, e.Stderr)
}

// Result is what the final stage produced.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
	// PIDs lists the process id of every stage in order.
	PIDs []int
}

// Output returns stdout followed by stderr with surrounding whitespace removed.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout + r.Stderr)
}

// Runner executes a command line.
type Runner interface {
	Run(ctx context.Context, command string) (*Result, error)
}

// Executor is the process-spawning Runner. The zero value is usable.
type Executor struct {
	Timeout   time.Duration
	MaxOutput int
	Dir       string
	Logger    *slog.Logger
}

// New returns an Executor with the given deadline.
func New(timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Timeout:   timeout,
		MaxOutput: DefaultMaxOutput,
		Logger:    logger.With("component", "pipeline"),
	}
}

// Parse splits command on "|" and tokenizes every stage.
func Parse(command string) ([][]string, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptySegment
	}
	parts := strings.Split(command, "|")
	stages := make([][]string, 0, len(parts))
	for i, part := range parts {
		tokens, err := security.Tokenize(part)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("stage %d: %w", i+1, ErrEmptySegment)
		}
		stages = append(stages, tokens)
	}
	return stages, nil
}

// Run executes command. Stage n's stdout feeds stage n+1's stdin and only
// the final stage's output and exit code are reported. A non-zero exit
// returns the Result together with an *ExitError.
//
// On timeout or ctx cancellation only the final stage is killed. Earlier
// stages usually die of a broken pipe once it is gone; any that do not are
// reaped in the background when they exit.
//
// When the final stage exits on its own, every upstream stage is waited
// on before Run returns. Stages still alive at the deadline are killed.
func (e *Executor) Run(ctx context.Context, command string) (*Result, error) {
	stages, err := Parse(command)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	cmds := make([]*exec.Cmd, len(stages))
	for i, argv := range stages {
		cmds[i] = exec.Command(argv[0], argv[1:]...)
		cmds[i].Dir = e.Dir
	}

	last := cmds[len(cmds)-1]
	stdout := &limitedBuffer{limit: e.maxOutput()}
	stderr := &limitedBuffer{limit: e.maxOutput()}
	last.Stdout = stdout
	last.Stderr = stderr
	last.WaitDelay = waitDelay

	readEnds := make([]*os.File, len(cmds)-1)
	writeEnds := make([]*os.File, len(cmds)-1)
	closePipes := func() {
		for i := range readEnds {
			if readEnds[i] != nil {
				readEnds[i].Close()
				readEnds[i] = nil
			}
			if writeEnds[i] != nil {
				writeEnds[i].Close()
				writeEnds[i] = nil
			}
		}
	}

	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closePipes()
			return nil, fmt.Errorf("create pipe: %w", err)
		}
		readEnds[i], writeEnds[i] = r, w
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
	}

	for i, cmd := range cmds {
		if err := cmd.Start(); err != nil {
			closePipes()
			abort(cmds[:i])
			if isNotFound(err) {
				return nil, fmt.Errorf("%s: %w", stages[i][0], ErrNotFound)
			}
			return nil, fmt.Errorf("start %s: %w", stages[i][0], err)
		}
		// The child holds its own copies now. Dropping the parent's lets a
		// consumer that exits early deliver EPIPE to its producer.
		if i < len(writeEnds) {
			writeEnds[i].Close()
			writeEnds[i] = nil
		}
		if i > 0 {
			readEnds[i-1].Close()
			readEnds[i-1] = nil
		}
	}

	pids := make([]int, len(cmds))
	for i, cmd := range cmds {
		pids[i] = cmd.Process.Pid
	}

	timeout := e.timeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() { done <- last.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		_ = last.Process.Kill()
		<-done
		go reap(cmds[:len(cmds)-1])
		e.logger().Warn("command timed out", "command", command, "timeout", timeout)
		return nil, ErrTimeout
	case <-ctx.Done():
		_ = last.Process.Kill()
		<-done
		go reap(cmds[:len(cmds)-1])
		return nil, ctx.Err()
	}

	if len(cmds) > 1 {
		upstream := make(chan struct{})
		go func() {
			reap(cmds[:len(cmds)-1])
			close(upstream)
		}()
		select {
		case <-upstream:
		case <-timer.C:
			e.logger().Warn("killing upstream stages still running after final stage exited",
				"command", command, "timeout", timeout)
			kill(cmds[:len(cmds)-1])
			<-upstream
		case <-ctx.Done():
			kill(cmds[:len(cmds)-1])
			<-upstream
		}
	}

	res := &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.truncated || stderr.truncated,
		PIDs:      pids,
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay):
		res.ExitCode = last.ProcessState.ExitCode()
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("wait %s: %w", stages[len(stages)-1][0], waitErr)
	}

	e.logger().Debug("command finished",
		"command", command,
		"stages", len(stages),
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)

	if res.ExitCode != 0 {
		return res, &ExitError{Code: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
	}
	return res, nil
}

// Describe renders the outcome of Run as the text reported to monitors and
// the decision service. Failures always start with "Error".
func Describe(res *Result, err error) string {
	var exitErr *ExitError
	switch {
	case err == nil:
		return res.Output()
	case errors.As(err, &exitErr):
		return fmt.Sprintf("Error (Exit Code %d): %s", exitErr.Code, exitErr.Stderr)
	case errors.Is(err, ErrTimeout):
		return "Error: Command timed out."
	case errors.Is(err, ErrNotFound):
		return "Error: Command not found."
	case errors.Is(err, ErrEmptySegment):
		return "Error: Empty command"
	default:
		return fmt.Sprintf("Error executing command: %v", err)
	}
}

func (e *Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultTimeout
}

func (e *Executor) maxOutput() int {
	if e.MaxOutput > 0 {
		return e.MaxOutput
	}
	return DefaultMaxOutput
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// abort kills and reaps stages that were started before a later one failed.
func abort(cmds []*exec.Cmd) {
	kill(cmds)
	reap(cmds)
}

func kill(cmds []*exec.Cmd) {
	for _, c := range cmds {
		if c.Process != nil {
			_ = c.Process.Kill()
		}
	}
}

func reap(cmds []*exec.Cmd) {
	for _, c := range cmds {
		if c.Process != nil {
			_ = c.Wait()
		}
	}
}
