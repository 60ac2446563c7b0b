package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownTool is returned when a call names an unregistered tool.
var ErrUnknownTool = errors.New("agent: unknown tool")

// ToolSchema describes a tool to the decision service. Parameters is a
// JSON Schema object.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Handler executes a tool. Errors are reported to the decision service as
// text, never surfaced to the user.
type Handler func(ctx context.Context, args Args) (string, error)

// Tool pairs a schema with its handler.
type Tool struct {
	Schema  ToolSchema
	Handler Handler
}

// Args are the decoded arguments of a tool call.
type Args map[string]any

// String returns the string argument key, or "" when missing.
func (a Args) String(key string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Registry holds the tools exposed to the decision service.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Schema.Name] = t
}

// Schemas returns all tool schemas sorted by name.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs the named tool.
func (r *Registry) Call(ctx context.Context, name string, args Args) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrUnknownTool)
	}
	return t.Handler(ctx, args)
}

// Param is a single string-typed parameter.
type Param struct {
	Name        string
	Description string
	Optional    bool
}

// ObjectSchema builds a JSON Schema object of string parameters.
func ObjectSchema(params ...Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		props[p.Name] = map[string]any{
			"type":        "string",
			"description": p.Description,
		}
		if !p.Optional {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Missing returns the names of required params absent or blank in args.
func Missing(args Args, names ...string) []string {
	var out []string
	for _, n := range names {
		if strings.TrimSpace(args.String(n)) == "" {
			out = append(out, n)
		}
	}
	return out
}
