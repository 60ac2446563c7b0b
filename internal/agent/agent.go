// Package agent drives conversations with the decision service. The service
// never runs tools itself: each reply lists the tool calls it wants, the
// Session executes them and feeds the results back in a follow-up turn.
package agent

import (
	"context"
	"errors"
)

// ErrUnreachable wraps failures to reach the decision service.
var ErrUnreachable = errors.New("agent: decision service unreachable")

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment is an optional file sent alongside a prompt.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// ToolCall is one tool invocation requested by the decision service.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
	// Signature is an opaque provider token that must be echoed back in history.
	Signature []byte
}

// ToolResult is the output of executing a ToolCall.
type ToolResult struct {
	CallID string
	Name   string
	Output string
}

// Message is one entry in a conversation.
type Message struct {
	Role        Role
	Text        string
	Attachment  *Attachment
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is a single call to the decision service.
type Request struct {
	SystemInstruction string
	Messages          []Message
	Tools             []ToolSchema
}

// Reply is the decision service's answer to one Request.
type Reply struct {
	Text      string
	ToolCalls []ToolCall
}

// DecisionService is the reasoning collaborator.
type DecisionService interface {
	Converse(ctx context.Context, req Request) (*Reply, error)
}
