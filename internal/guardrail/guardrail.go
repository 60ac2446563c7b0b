// Package guardrail decides whether a requested action runs immediately or
// waits for a human, and carries out approved actions.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/channels"
	"github.com/clawinfra/opsguardian/internal/pipeline"
	"github.com/clawinfra/opsguardian/internal/security"
)

// ErrUnknownTool is recorded when an approved request names no executor.
var ErrUnknownTool = errors.New("guardrail: unknown tool")

// Outcome is the result of RunCommand.
type Outcome struct {
	// Executed is true when the command ran without approval.
	Executed bool
	Output   string
	// Request is set when the command was queued for approval.
	Request *approval.Request
}

// ScriptExecutor runs an approved script body.
type ScriptExecutor interface {
	RunScript(ctx context.Context, id, content string) (string, error)
}

// Restarter performs an approved service restart.
type Restarter interface {
	Restart(ctx context.Context, reason string) (string, error)
}

// Options wires a Guardrail.
type Options struct {
	SafeCommands []string
	Runner       pipeline.Runner
	Queue        *approval.Queue
	Notifier     channels.Notifier
	Scripts      ScriptExecutor
	Restarter    Restarter
	// FrontendURL returns the dashboard base URL for notification links.
	FrontendURL func() string
	Logger      *slog.Logger
}

// Guardrail is the entry point for every agent-requested action.
type Guardrail struct {
	classifier  atomic.Pointer[security.Classifier]
	runner      pipeline.Runner
	queue       *approval.Queue
	notifier    channels.Notifier
	scripts     ScriptExecutor
	restarter   Restarter
	frontendURL func() string
	logger      *slog.Logger
}

// New creates a Guardrail.
func New(opts Options) *Guardrail {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FrontendURL == nil {
		opts.FrontendURL = func() string { return "" }
	}
	g := &Guardrail{
		runner:      opts.Runner,
		queue:       opts.Queue,
		notifier:    opts.Notifier,
		scripts:     opts.Scripts,
		restarter:   opts.Restarter,
		frontendURL: opts.FrontendURL,
		logger:      opts.Logger.With("component", "guardrail"),
	}
	g.classifier.Store(security.NewClassifier(opts.SafeCommands))
	return g
}

// SetSafeCommands swaps the allow-list.
func (g *Guardrail) SetSafeCommands(names []string) {
	g.classifier.Store(security.NewClassifier(names))
	g.logger.Info("safe command list updated", "count", len(names))
}

// SafeCommands returns the allow-listed executables, sorted.
func (g *Guardrail) SafeCommands() []string {
	names := g.classifier.Load().Allowed()
	sort.Strings(names)
	return names
}

// Queue returns the approval queue.
func (g *Guardrail) Queue() *approval.Queue { return g.queue }

// Classify reports whether command may run without approval. A "|" chain
// is SAFE only when every stage's executable is allow-listed.
func (g *Guardrail) Classify(command string) (security.Verdict, error) {
	if strings.TrimSpace(command) == "" {
		return security.VerdictEmpty, security.ErrEmptyCommand
	}
	c := g.classifier.Load()
	for _, stage := range strings.Split(command, "|") {
		v, err := c.Classify(stage)
		if errors.Is(err, security.ErrEmptyCommand) {
			// Let the executor report the malformed chain.
			continue
		}
		if err != nil || v != security.VerdictSafe {
			return security.VerdictRisky, nil
		}
	}
	return security.VerdictSafe, nil
}

// RunCommand executes a safe command immediately or queues a risky one.
// Executor failures on a safe command are returned as its output.
func (g *Guardrail) RunCommand(ctx context.Context, command string) (Outcome, error) {
	verdict, err := g.Classify(command)
	if err != nil {
		return Outcome{}, err
	}

	if verdict == security.VerdictSafe {
		res, err := g.runner.Run(ctx, command)
		g.logger.Info("safe command executed", "command", command, "error", err)
		return Outcome{Executed: true, Output: pipeline.Describe(res, err)}, nil
	}

	g.logger.Info("risky command requires approval", "command", command)
	req := g.queue.Create(approval.NewRequest{
		Tool:        approval.ToolTerminalCommand,
		Description: "Execute Command: " + command,
		Command:     command,
	})
	g.notify(ctx, commandNotice(command, g.frontendURL()))
	return Outcome{Request: &req}, nil
}

// RequestRestart queues a service restart.
func (g *Guardrail) RequestRestart(ctx context.Context, reason string) approval.Request {
	if reason == "" {
		reason = "No reason given"
	}
	req := g.queue.Create(approval.NewRequest{
		Tool:        approval.ToolRestartService,
		Description: "Restart Service: " + reason,
		Command:     reason,
	})
	g.notify(ctx, restartNotice(reason, g.frontendURL()))
	return req
}

// ProposeScript queues a script for review.
func (g *Guardrail) ProposeScript(ctx context.Context, content, description string) approval.Request {
	req := g.queue.Create(approval.NewRequest{
		Tool:        approval.ToolExecuteScript,
		Description: "Run Script: " + description,
		Content:     content,
	})
	g.notify(ctx, scriptNotice(description, g.frontendURL()))
	return req
}

// Alert sends a free-form incident alert to the operator.
func (g *Guardrail) Alert(ctx context.Context, summary string) error {
	if g.notifier == nil {
		return errors.New("no notification channel configured")
	}
	return g.notifier.Notify(ctx, alertNotice(summary, g.frontendURL()))
}

// Approve claims a PENDING request, executes it and records the result.
// edited, when non-empty, replaces the proposed payload for this execution
// only. The request keeps the original proposal alongside the edit.
// Execution failures become the result; the request always ends EXECUTED.
func (g *Guardrail) Approve(ctx context.Context, id string, edited *string) (approval.Request, error) {
	req, err := g.queue.Claim(id)
	if err != nil {
		return approval.Request{}, err
	}
	if edited != nil && *edited != "" {
		if err := g.queue.EditPayload(id, *edited); err != nil {
			return approval.Request{}, err
		}
		req, _ = g.queue.Get(id)
	}

	result := g.dispatch(ctx, req)
	done, err := g.queue.Complete(id, result)
	if err != nil {
		return approval.Request{}, err
	}
	return done, nil
}

// Deny rejects a PENDING request.
func (g *Guardrail) Deny(id string) (approval.Request, error) {
	return g.queue.Deny(id)
}

func (g *Guardrail) dispatch(ctx context.Context, req approval.Request) (result string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("approved action panicked", "id", req.ID, "panic", r)
			result = fmt.Sprintf("Error: execution panicked: %v", r)
		}
	}()

	g.logger.Info("executing approved request", "id", req.ID, "tool", req.Tool, "edited", req.EditedPayload != "")
	payload := req.ExecPayload()
	switch req.Tool {
	case approval.ToolTerminalCommand:
		res, err := g.runner.Run(ctx, payload)
		return pipeline.Describe(res, err)

	case approval.ToolExecuteScript:
		if g.scripts == nil {
			return "Error: script execution is not configured"
		}
		if strings.TrimSpace(payload) == "" {
			return "Error: No script content found"
		}
		out, err := g.scripts.RunScript(ctx, req.ID, payload)
		if err != nil {
			return fmt.Sprintf("Script execution failed: %v\n%s", err, out)
		}
		return out

	case approval.ToolRestartService:
		if g.restarter == nil {
			return "Error: service restart is not configured"
		}
		out, err := g.restarter.Restart(ctx, payload)
		if err != nil {
			return fmt.Sprintf("Restart failed: %v", err)
		}
		return out

	default:
		return fmt.Sprintf("Error: %v %q", ErrUnknownTool, req.Tool)
	}
}

func (g *Guardrail) notify(ctx context.Context, text string) {
	if g.notifier == nil {
		return
	}
	// Delivery failures are logged by the notifier and never block the request.
	_ = g.notifier.Notify(ctx, text)
}
