package api

import (
	"net/http"
	"testing"

	"github.com/clawinfra/opsguardian/internal/security"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

func TestFileCRUD(t *testing.T) {
	env := newTestEnv(t, "")
	tok := token(t, security.RoleOperator)

	w := do(t, env.handler, http.MethodPost, "/api/files", tok, fileBody{Filename: "runbook.md", Content: "# Restart steps"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d body %s", w.Code, w.Body)
	}
	if w := do(t, env.handler, http.MethodPost, "/api/files", tok, fileBody{Filename: "runbook.md", Content: "# v2"}); w.Code != http.StatusOK {
		t.Errorf("overwrite: status = %d", w.Code)
	}

	list := decode[map[string][]string](t, do(t, env.handler, http.MethodGet, "/api/files", tok, nil))
	found := false
	for _, name := range list["files"] {
		if name == "runbook.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("list = %v", list)
	}

	got := decode[fileBody](t, do(t, env.handler, http.MethodGet, "/api/files/runbook.md", tok, nil))
	if got.Content != "# v2" {
		t.Errorf("read = %+v", got)
	}

	if w := do(t, env.handler, http.MethodDelete, "/api/files/runbook.md", tok, nil); w.Code != http.StatusOK {
		t.Errorf("delete: status = %d", w.Code)
	}
	if w := do(t, env.handler, http.MethodGet, "/api/files/runbook.md", tok, nil); w.Code != http.StatusNotFound {
		t.Errorf("read after delete: status = %d", w.Code)
	}
	if w := do(t, env.handler, http.MethodDelete, "/api/files/runbook.md", tok, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d", w.Code)
	}
}

func TestFileErrors(t *testing.T) {
	env := newTestEnv(t, "")
	tok := token(t, security.RoleOperator)

	tests := []struct {
		name string
		body fileBody
		want int
	}{
		{"traversal", fileBody{Filename: "../escape.txt", Content: "x"}, http.StatusForbidden},
		{"missing name", fileBody{Content: "x"}, http.StatusBadRequest},
		{"reserved", fileBody{Filename: "approved_script_1.py", Content: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, env.handler, http.MethodPost, "/api/files", tok, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestFileQuota(t *testing.T) {
	env := newTestEnv(t, "")
	tok := token(t, security.RoleOperator)

	for i := range workspace.DefaultMaxExtraFiles {
		name := string(rune('a'+i)) + ".json"
		if w := do(t, env.handler, http.MethodPost, "/api/files", tok, fileBody{Filename: name, Content: "{}"}); w.Code != http.StatusCreated {
			t.Fatalf("file %d: status = %d", i, w.Code)
		}
	}
	w := do(t, env.handler, http.MethodPost, "/api/files", tok, fileBody{Filename: "z.json", Content: "{}"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("over quota: status = %d", w.Code)
	}
}

func TestOperatorMayEditInstruction(t *testing.T) {
	env := newTestEnv(t, "")
	tok := token(t, security.RoleOperator)

	w := do(t, env.handler, http.MethodPost, "/api/files", tok, fileBody{Filename: workspace.SystemInstructionFile, Content: "Always page on-call."})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	content, err := env.ws.Read(workspace.SystemInstructionFile)
	if err != nil || content != "Always page on-call." {
		t.Errorf("instruction = %q, %v", content, err)
	}
}
