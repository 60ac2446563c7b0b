package guardrail

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawinfra/opsguardian/internal/pipeline"
	"github.com/clawinfra/opsguardian/internal/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ws, err := workspace.New(filepath.Join(t.TempDir(), "ws"), workspace.Options{}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func scratchFiles(t *testing.T, root string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, "approved_script_*"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestScriptRunnerCombinedOutput(t *testing.T) {
	requireShell(t)
	ws := newTestWorkspace(t)
	r := NewScriptRunner(ws, "sh", 5*time.Second, nil)

	out, err := r.RunScript(context.Background(), "abc", "echo out\necho err >&2\n")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if !strings.Contains(out, "out") || !strings.Contains(out, "err") {
		t.Errorf("output = %q", out)
	}
	if left := scratchFiles(t, ws.Root()); len(left) != 0 {
		t.Errorf("scratch files left behind: %v", left)
	}
}

func TestScriptRunnerFailingScript(t *testing.T) {
	requireShell(t)
	ws := newTestWorkspace(t)
	r := NewScriptRunner(ws, "sh", 5*time.Second, nil)

	out, err := r.RunScript(context.Background(), "fail", "echo broken >&2\nexit 3\n")
	if err != nil {
		t.Fatalf("a failing script is a completed run: %v", err)
	}
	if !strings.Contains(out, "broken") {
		t.Errorf("output = %q", out)
	}
	if left := scratchFiles(t, ws.Root()); len(left) != 0 {
		t.Errorf("scratch files left behind: %v", left)
	}
}

func TestScriptRunnerTimeoutCleansUp(t *testing.T) {
	requireShell(t)
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	ws := newTestWorkspace(t)
	r := NewScriptRunner(ws, "sh", 200*time.Millisecond, nil)

	start := time.Now()
	_, err := r.RunScript(context.Background(), "slow", "exec sleep 5\n")
	if !errors.Is(err, pipeline.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if left := scratchFiles(t, ws.Root()); len(left) != 0 {
		t.Errorf("scratch files left behind: %v", left)
	}
}

func TestScriptRunnerMissingInterpreter(t *testing.T) {
	ws := newTestWorkspace(t)
	r := NewScriptRunner(ws, "definitely-not-an-interpreter-xyz", time.Second, nil)

	_, err := r.RunScript(context.Background(), "x", "print(1)")
	if !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if left := scratchFiles(t, ws.Root()); len(left) != 0 {
		t.Errorf("scratch files left behind: %v", left)
	}
}

func TestScriptExt(t *testing.T) {
	tests := map[string]string{"python3": ".py", "/usr/bin/python": ".py", "bash": ".sh", "node": ""}
	for in, want := range tests {
		if got := scriptExt(in); got != want {
			t.Errorf("scriptExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCommandRestarter(t *testing.T) {
	runner := &fakeRunner{}
	cmd := ""
	r := NewCommandRestarter(runner, func() string { return cmd }, nil)

	if _, err := r.Restart(context.Background(), "oom"); !errors.Is(err, ErrRestartNotConfigured) {
		t.Errorf("unset command = %v", err)
	}

	cmd = "systemctl restart payments"
	out, err := r.Restart(context.Background(), "oom")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Service restarted." || runner.calls[0] != cmd {
		t.Errorf("out = %q, calls = %v", out, runner.calls)
	}

	runner.err = &pipeline.ExitError{Code: 1, Stderr: "denied"}
	if _, err := r.Restart(context.Background(), "oom"); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("failing restart = %v", err)
	}
}
