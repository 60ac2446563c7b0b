package agent

import (
	"context"
	"errors"
	"testing"

	genai "google.golang.org/genai"
)

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), "", nil); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v", err)
	}
}

func TestToGenAIContents(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Text: "check disk", Attachment: &Attachment{Name: "runbook.pdf", Data: []byte("%PDF")}},
		{Role: RoleModel, ToolCalls: []ToolCall{{ID: "c1", Name: "run_terminal_command", Args: map[string]any{"command": "df -h"}, Signature: []byte("sig")}}},
		{Role: RoleUser, ToolResults: []ToolResult{{CallID: "c1", Name: "run_terminal_command", Output: "40%"}}},
		{Role: RoleModel},
	}

	contents := toGenAIContents(msgs)
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3 (empty message dropped)", len(contents))
	}

	first := contents[0]
	if first.Role != string(genai.RoleUser) || len(first.Parts) != 2 {
		t.Fatalf("first = %+v", first)
	}
	if first.Parts[1].InlineData == nil || first.Parts[1].InlineData.MIMEType != "application/pdf" {
		t.Errorf("attachment part = %+v", first.Parts[1])
	}

	call := contents[1].Parts[0]
	if contents[1].Role != string(genai.RoleModel) || call.FunctionCall == nil || call.FunctionCall.ID != "c1" {
		t.Errorf("call part = %+v", call)
	}
	if string(call.ThoughtSignature) != "sig" {
		t.Error("thought signature not echoed")
	}

	resp := contents[2].Parts[0].FunctionResponse
	if resp == nil || resp.Response["output"] != "40%" || resp.ID != "c1" {
		t.Errorf("response part = %+v", resp)
	}
}

func TestFromGenAIResponse(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "Restarting "},
				{Text: "now."},
				{FunctionCall: &genai.FunctionCall{Name: "execute_service_restart", Args: map[string]any{"reason": "oom"}}},
			}},
		}},
	}

	r := fromGenAIResponse(resp)
	if r.Text != "Restarting now." {
		t.Errorf("text = %q", r.Text)
	}
	if len(r.ToolCalls) != 1 || r.ToolCalls[0].Args["reason"] != "oom" {
		t.Errorf("tool calls = %+v", r.ToolCalls)
	}

	if empty := fromGenAIResponse(nil); empty.Text != "" || empty.ToolCalls != nil {
		t.Errorf("nil response = %+v", empty)
	}
}

func TestBuildGenerationConfig(t *testing.T) {
	cfg := buildGenerationConfig(Request{
		SystemInstruction: "core",
		Tools:             []ToolSchema{{Name: "list_files"}, {Name: "read_file", Parameters: ObjectSchema(Param{Name: "filename"})}},
	})
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "core" {
		t.Error("system instruction missing")
	}
	decls := cfg.Tools[0].FunctionDeclarations
	if len(decls) != 2 || decls[0].ParametersJsonSchema != nil || decls[1].ParametersJsonSchema == nil {
		t.Errorf("declarations = %+v", decls)
	}
	if cfg.ToolConfig.FunctionCallingConfig.Mode != genai.FunctionCallingConfigModeAuto {
		t.Error("function calling mode not auto")
	}
}
