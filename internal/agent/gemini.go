package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash-lite"

// ErrMissingAPIKey is returned when the Gemini client has no credentials.
var ErrMissingAPIKey = errors.New("agent: missing Google API key")

// GeminiClient implements DecisionService with the Google GenAI SDK.
type GeminiClient struct {
	client *genai.Client
	model  func() string
}

// NewGeminiClient creates a client. model is read on every call so a config
// reload can switch models without a restart.
func NewGeminiClient(ctx context.Context, apiKey string, model func() string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Google GenAI client: %w", err)
	}
	if model == nil {
		model = func() string { return DefaultModel }
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Converse sends one request and converts the first candidate.
func (c *GeminiClient) Converse(ctx context.Context, req Request) (*Reply, error) {
	contents := toGenAIContents(req.Messages)
	if len(contents) == 0 {
		return &Reply{}, nil
	}

	model := c.model()
	if model == "" {
		model = DefaultModel
	}
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, buildGenerationConfig(req))
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %v", ErrUnreachable, err)
	}
	return fromGenAIResponse(resp), nil
}

func buildGenerationConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decl := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
			if len(t.Parameters) > 0 {
				decl.ParametersJsonSchema = t.Parameters
			}
			decls = append(decls, decl)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}
	return cfg
}

func toGenAIContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var parts []*genai.Part
		if m.Text != "" {
			parts = append(parts, genai.NewPartFromText(m.Text))
		}
		if m.Attachment != nil && len(m.Attachment.Data) > 0 {
			parts = append(parts, genai.NewPartFromBytes(m.Attachment.Data, attachmentMIME(m.Attachment)))
		}
		for _, tc := range m.ToolCalls {
			part := genai.NewPartFromFunctionCall(tc.Name, tc.Args)
			part.FunctionCall.ID = tc.ID
			part.ThoughtSignature = tc.Signature
			parts = append(parts, part)
		}
		for _, tr := range m.ToolResults {
			part := genai.NewPartFromFunctionResponse(tr.Name, map[string]any{"output": tr.Output})
			part.FunctionResponse.ID = tr.CallID
			parts = append(parts, part)
		}
		if len(parts) == 0 {
			continue
		}
		role := genai.RoleUser
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	return contents
}

func fromGenAIResponse(resp *genai.GenerateContentResponse) *Reply {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return &Reply{}
	}
	reply := &Reply{}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Args:      part.FunctionCall.Args,
				Signature: part.ThoughtSignature,
			})
		}
	}
	reply.Text = text.String()
	return reply
}

func attachmentMIME(a *Attachment) string {
	if a.MIMEType != "" {
		return a.MIMEType
	}
	switch {
	case strings.HasSuffix(a.Name, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(a.Name, ".md"):
		return "text/markdown"
	default:
		return "text/plain"
	}
}
