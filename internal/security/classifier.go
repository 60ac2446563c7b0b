package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

var (
	// ErrEmptyCommand is returned when a command has no tokens.
	ErrEmptyCommand = errors.New("security: empty command")
	// ErrPathTraversal is returned when a path resolves outside its root.
	ErrPathTraversal = errors.New("security: path escapes sandbox root")
)

// Verdict is the outcome of classifying a command.
type Verdict int

const (
	// VerdictEmpty means the command had no executable to look up.
	VerdictEmpty Verdict = iota
	// VerdictSafe means the command may run without human approval.
	VerdictSafe
	// VerdictRisky means the command must go through the approval queue.
	VerdictRisky
)

func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "SAFE"
	case VerdictRisky:
		return "RISKY"
	default:
		return "EMPTY"
	}
}

// DefaultSafeCommands are executables that are read-only enough to run unattended.
var DefaultSafeCommands = []string{
	"ls", "pwd", "grep", "cat", "echo", "ping", "df", "netstat", "whoami", "date", "uptime",
}

// Classifier decides whether a command may be auto-executed. The allow-list
// only gates auto-execution; an approved command may run anything.
type Classifier struct {
	allowed map[string]struct{}
}

// NewClassifier builds a classifier for the given allow-list. An empty list
// falls back to DefaultSafeCommands.
func NewClassifier(allowed []string) *Classifier {
	if len(allowed) == 0 {
		allowed = DefaultSafeCommands
	}
	c := &Classifier{allowed: make(map[string]struct{}, len(allowed))}
	for _, name := range allowed {
		name = strings.TrimSpace(name)
		if name != "" {
			c.allowed[name] = struct{}{}
		}
	}
	return c
}

// Classify tokenizes cmd and looks its executable up in the allow-list.
// Empty input yields VerdictEmpty together with ErrEmptyCommand.
func (c *Classifier) Classify(cmd string) (Verdict, error) {
	tokens, err := Tokenize(cmd)
	if err != nil {
		return VerdictRisky, err
	}
	if len(tokens) == 0 {
		return VerdictEmpty, ErrEmptyCommand
	}
	if _, ok := c.allowed[tokens[0]]; ok {
		return VerdictSafe, nil
	}
	return VerdictRisky, nil
}

// Allowed returns the allow-list in no particular order.
func (c *Classifier) Allowed() []string {
	out := make([]string, 0, len(c.allowed))
	for name := range c.allowed {
		out = append(out, name)
	}
	return out
}

// Tokenize splits cmd into words honouring shell quoting rules without
// expanding anything.
func Tokenize(cmd string) ([]string, error) {
	if strings.TrimSpace(cmd) == "" {
		return nil, nil
	}
	tokens, err := shlex.Split(cmd)
	if err != nil {
		return nil, fmt.Errorf("tokenize %q: %w", cmd, err)
	}
	return tokens, nil
}
