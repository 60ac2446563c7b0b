package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// EmptyReplyText stands in for a reply that carried no text, which happens
// when the decision service only called tools.
const EmptyReplyText = "Action processed. Please check the dashboard/approvals tab for details."

const (
	defaultMaxIterations = 10
	defaultMaxParallel   = 5
	defaultToolTimeout   = 2 * time.Minute
)

// SessionOptions configures a Session.
type SessionOptions struct {
	MaxIterations int
	MaxParallel   int
	ToolTimeout   time.Duration
}

// Session is one ongoing conversation with the decision service. Sends are
// serialized; changing the system instruction starts a fresh conversation
// on the next Send.
type Session struct {
	svc      DecisionService
	registry *Registry
	logger   *slog.Logger

	maxIterations int
	maxParallel   int
	toolTimeout   time.Duration

	instrMu     sync.Mutex
	instruction string
	generation  uint64
	attachment  *Attachment

	convMu     sync.Mutex
	history    []Message
	historyGen uint64
}

// NewSession creates a session using svc and the tools in registry.
func NewSession(svc DecisionService, registry *Registry, opts SessionOptions, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		svc:           svc,
		registry:      registry,
		logger:        logger.With("component", "agent"),
		maxIterations: opts.MaxIterations,
		maxParallel:   opts.MaxParallel,
		toolTimeout:   opts.ToolTimeout,
	}
	if s.maxIterations <= 0 {
		s.maxIterations = defaultMaxIterations
	}
	if s.maxParallel <= 0 {
		s.maxParallel = defaultMaxParallel
	}
	if s.toolTimeout <= 0 {
		s.toolTimeout = defaultToolTimeout
	}
	return s
}

// SetSystemInstruction replaces the system instruction. It never blocks on
// an in-flight Send, so tools may call it through workspace listeners.
func (s *Session) SetSystemInstruction(text string) {
	s.instrMu.Lock()
	defer s.instrMu.Unlock()
	if text == s.instruction {
		return
	}
	s.instruction = text
	s.generation++
	s.logger.Info("system instruction updated", "bytes", len(text))
}

// SystemInstruction returns the current system instruction.
func (s *Session) SystemInstruction() string {
	s.instrMu.Lock()
	defer s.instrMu.Unlock()
	return s.instruction
}

// SetAttachment sets the file sent with every subsequent user prompt.
// Only the newest prompt carrying it goes out with a request, so the
// history never resends earlier copies. Passing nil clears it.
func (s *Session) SetAttachment(a *Attachment) {
	s.instrMu.Lock()
	defer s.instrMu.Unlock()
	s.attachment = a
}

// Reset discards the conversation history.
func (s *Session) Reset() {
	s.convMu.Lock()
	s.history = nil
	s.convMu.Unlock()
}

// Send delivers prompt, runs any requested tools and returns the final
// reply text. Failures to reach the decision service wrap ErrUnreachable and
// leave the history as it was before the call.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	s.instrMu.Lock()
	instruction, gen, att := s.instruction, s.generation, s.attachment
	s.instrMu.Unlock()

	s.convMu.Lock()
	defer s.convMu.Unlock()

	if gen != s.historyGen {
		s.history = nil
		s.historyGen = gen
	}
	checkpoint := len(s.history)
	s.history = append(s.history, Message{Role: RoleUser, Text: prompt, Attachment: att})

	text, err := s.loop(ctx, instruction)
	if err != nil {
		s.history = s.history[:checkpoint]
		return "", err
	}
	if text == "" {
		text = EmptyReplyText
	}
	return text, nil
}

func (s *Session) loop(ctx context.Context, instruction string) (string, error) {
	tools := s.registry.Schemas()
	var last string

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		reply, err := s.svc.Converse(ctx, Request{
			SystemInstruction: instruction,
			Messages:          latestAttachmentOnly(s.history),
			Tools:             tools,
		})
		if err != nil {
			if errors.Is(err, ErrUnreachable) {
				return "", err
			}
			return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
		}

		s.history = append(s.history, Message{Role: RoleModel, Text: reply.Text, ToolCalls: reply.ToolCalls})
		if reply.Text != "" {
			last = reply.Text
		}
		if len(reply.ToolCalls) == 0 {
			s.logger.Debug("conversation turn complete", "iterations", iteration+1)
			return reply.Text, nil
		}

		results := s.runTools(ctx, reply.ToolCalls)
		s.history = append(s.history, Message{Role: RoleUser, ToolResults: results})
	}

	s.logger.Warn("tool loop hit iteration limit", "max", s.maxIterations)
	return last, nil
}

// runTools executes calls concurrently and returns results in call order.
func (s *Session) runTools(ctx context.Context, calls []ToolCall) []ToolResult {
	results := make([]ToolResult, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = s.runTool(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Session) runTool(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()
	res := ToolResult{CallID: call.ID, Name: call.Name}

	if err := ctx.Err(); err != nil {
		res.Output = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		return res
	}

	tctx, cancel := context.WithTimeout(ctx, s.toolTimeout)
	defer cancel()

	out, err := s.registry.Call(tctx, call.Name, Args(call.Args))
	if err != nil {
		res.Output = fmt.Sprintf("Error executing %s: %v", call.Name, err)
		s.logger.Warn("tool failed", "tool", call.Name, "error", err)
	} else {
		res.Output = out
	}
	s.logger.Info("tool executed", "tool", call.Name, "elapsed_ms", time.Since(start).Milliseconds())
	return res
}

// latestAttachmentOnly returns history with the attachment dropped from
// every message except the last one that carries it. history itself is not
// modified.
func latestAttachmentOnly(history []Message) []Message {
	last := -1
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Attachment != nil {
			last = i
			break
		}
	}
	if last <= 0 {
		return history
	}
	out := make([]Message, len(history))
	copy(out, history)
	for i := 0; i < last; i++ {
		out[i].Attachment = nil
	}
	return out
}
