package guardrail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/clawinfra/opsguardian/internal/approval"
	"github.com/clawinfra/opsguardian/internal/pipeline"
	"github.com/clawinfra/opsguardian/internal/security"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	output string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, command string) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	return &pipeline.Result{Stdout: f.output}, f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return r.err
}

type fakeScripts struct {
	content string
	out     string
	err     error
	calls   atomic.Int32
}

func (f *fakeScripts) RunScript(_ context.Context, _ string, content string) (string, error) {
	f.calls.Add(1)
	f.content = content
	return f.out, f.err
}

type fakeRestarter struct {
	reason string
	err    error
}

func (f *fakeRestarter) Restart(_ context.Context, reason string) (string, error) {
	f.reason = reason
	return "restarted", f.err
}

type fixture struct {
	g        *Guardrail
	runner   *fakeRunner
	notifier *recordingNotifier
	scripts  *fakeScripts
	restart  *fakeRestarter
}

func newFixture() *fixture {
	f := &fixture{
		runner:   &fakeRunner{output: "ok"},
		notifier: &recordingNotifier{},
		scripts:  &fakeScripts{out: "script ran"},
		restart:  &fakeRestarter{},
	}
	f.g = New(Options{
		Runner:      f.runner,
		Queue:       approval.NewQueue(nil),
		Notifier:    f.notifier,
		Scripts:     f.scripts,
		Restarter:   f.restart,
		FrontendURL: func() string { return "https://ops.example.com" },
	})
	return f
}

func TestClassify(t *testing.T) {
	g := newFixture().g
	tests := []struct {
		command string
		want    security.Verdict
	}{
		{"ls -la", security.VerdictSafe},
		{"grep -i error /var/log/syslog", security.VerdictSafe},
		{"cat /etc/hosts | grep local", security.VerdictSafe},
		{"cat /etc/passwd | rm -rf /", security.VerdictRisky},
		{"rm -rf /tmp/x", security.VerdictRisky},
		{"/bin/ls", security.VerdictRisky},
		{"systemctl restart nginx", security.VerdictRisky},
	}
	for _, tt := range tests {
		got, err := g.Classify(tt.command)
		if err != nil {
			t.Errorf("Classify(%q): %v", tt.command, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.command, got, tt.want)
		}
	}

	if v, err := g.Classify("   "); v != security.VerdictEmpty || !errors.Is(err, security.ErrEmptyCommand) {
		t.Errorf("blank command = %s, %v", v, err)
	}
}

func TestSetSafeCommands(t *testing.T) {
	g := newFixture().g
	g.SetSafeCommands([]string{"kubectl"})
	if v, _ := g.Classify("kubectl get pods"); v != security.VerdictSafe {
		t.Errorf("kubectl = %s", v)
	}
	if v, _ := g.Classify("ls"); v != security.VerdictRisky {
		t.Errorf("ls after swap = %s", v)
	}
	if got := g.SafeCommands(); len(got) != 1 || got[0] != "kubectl" {
		t.Errorf("SafeCommands = %v", got)
	}
}

func TestRunCommandSafeExecutesImmediately(t *testing.T) {
	f := newFixture()
	out, err := f.g.RunCommand(context.Background(), "uptime")
	if err != nil {
		t.Fatal(err)
	}
	if !out.Executed || out.Output != "ok" || out.Request != nil {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.g.Queue().List()) != 0 {
		t.Error("safe command was queued")
	}
	if len(f.notifier.texts) != 0 {
		t.Error("safe command triggered a notification")
	}
}

func TestRunCommandSafeFailureIsOutput(t *testing.T) {
	f := newFixture()
	f.runner.err = pipeline.ErrNotFound
	out, err := f.g.RunCommand(context.Background(), "ping nowhere")
	if err != nil {
		t.Fatalf("executor failure must not be a hard error: %v", err)
	}
	if out.Output != "Error: Command not found." {
		t.Errorf("output = %q", out.Output)
	}
}

func TestRunCommandRiskyQueues(t *testing.T) {
	f := newFixture()
	out, err := f.g.RunCommand(context.Background(), "systemctl restart nginx")
	if err != nil {
		t.Fatal(err)
	}
	if out.Executed || out.Request == nil {
		t.Fatalf("outcome = %+v", out)
	}
	if f.runner.count() != 0 {
		t.Error("risky command executed without approval")
	}
	req := out.Request
	if req.Status != approval.StatusPending || req.Tool != approval.ToolTerminalCommand || req.Command != "systemctl restart nginx" {
		t.Errorf("request = %+v", req)
	}
	if len(f.notifier.texts) != 1 {
		t.Fatalf("notifications = %d", len(f.notifier.texts))
	}
	text := f.notifier.texts[0]
	if !strings.Contains(text, "`systemctl restart nginx`") || !strings.Contains(text, "https://ops.example.com/?tab=approvals") {
		t.Errorf("notification = %q", text)
	}
}

func TestNotifierFailureDoesNotBlock(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("webhook down")
	out, err := f.g.RunCommand(context.Background(), "reboot")
	if err != nil || out.Request == nil {
		t.Fatalf("outcome = %+v, err = %v", out, err)
	}
	if _, err := f.g.Queue().Get(out.Request.ID); err != nil {
		t.Error("request missing after notification failure")
	}
}

func TestRunCommandEmpty(t *testing.T) {
	f := newFixture()
	if _, err := f.g.RunCommand(context.Background(), ""); !errors.Is(err, security.ErrEmptyCommand) {
		t.Errorf("err = %v", err)
	}
	if f.runner.count() != 0 || len(f.g.Queue().List()) != 0 {
		t.Error("empty command had side effects")
	}
}

func TestApproveCommand(t *testing.T) {
	f := newFixture()
	f.runner.output = "nginx restarted"
	out, _ := f.g.RunCommand(context.Background(), "systemctl restart nginx")

	done, err := f.g.Approve(context.Background(), out.Request.ID, nil)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if done.Status != approval.StatusExecuted || done.Result != "nginx restarted" {
		t.Errorf("request = %+v", done)
	}
	if f.runner.calls[0] != "systemctl restart nginx" {
		t.Errorf("ran %q", f.runner.calls[0])
	}
}

func TestApproveEditedCommand(t *testing.T) {
	f := newFixture()
	out, _ := f.g.RunCommand(context.Background(), "rm -rf /var/cache")
	edited := "rm -rf /var/cache/app"

	done, err := f.g.Approve(context.Background(), out.Request.ID, &edited)
	if err != nil {
		t.Fatal(err)
	}
	if f.runner.calls[0] != edited {
		t.Errorf("ran %q, want %q", f.runner.calls[0], edited)
	}
	if done.Command != "rm -rf /var/cache" || done.EditedPayload != edited {
		t.Errorf("proposal = %q, edit = %q", done.Command, done.EditedPayload)
	}
}

func TestApproveFailureStillExecuted(t *testing.T) {
	f := newFixture()
	out, _ := f.g.RunCommand(context.Background(), "systemctl restart db")
	f.runner.err = &pipeline.ExitError{Code: 5, Stderr: "unit not found"}

	done, err := f.g.Approve(context.Background(), out.Request.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != approval.StatusExecuted || done.Result != "Error (Exit Code 5): unit not found" {
		t.Errorf("request = %+v", done)
	}
}

func TestApproveScriptWithEdits(t *testing.T) {
	f := newFixture()
	req := f.g.ProposeScript(context.Background(), "print('old')", "clear cache")
	if req.Description != "Run Script: clear cache" || !strings.Contains(f.notifier.texts[0], "SCRIPT PROPOSAL") {
		t.Errorf("request = %+v, notice = %q", req, f.notifier.texts[0])
	}

	edited := "print('new')"
	done, err := f.g.Approve(context.Background(), req.ID, &edited)
	if err != nil {
		t.Fatal(err)
	}
	if f.scripts.content != edited {
		t.Errorf("script ran %q", f.scripts.content)
	}
	if done.Content != "print('old')" {
		t.Errorf("proposed script overwritten with %q", done.Content)
	}
	if done.Result != "script ran" {
		t.Errorf("result = %q", done.Result)
	}
}

func TestApproveScriptError(t *testing.T) {
	f := newFixture()
	f.scripts.err = pipeline.ErrTimeout
	req := f.g.ProposeScript(context.Background(), "while True: pass", "spin")

	done, err := f.g.Approve(context.Background(), req.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != approval.StatusExecuted || !strings.Contains(done.Result, "timed out") {
		t.Errorf("request = %+v", done)
	}
}

func TestApproveRestart(t *testing.T) {
	f := newFixture()
	req := f.g.RequestRestart(context.Background(), "High latency")
	if !strings.Contains(f.notifier.texts[0], "RESTART SERVICE") || !strings.Contains(f.notifier.texts[0], "Reason: High latency") {
		t.Errorf("notice = %q", f.notifier.texts[0])
	}

	done, err := f.g.Approve(context.Background(), req.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if f.restart.reason != "High latency" || done.Result != "restarted" {
		t.Errorf("reason = %q, result = %q", f.restart.reason, done.Result)
	}
}

func TestApproveUnknownAndTwice(t *testing.T) {
	f := newFixture()
	if _, err := f.g.Approve(context.Background(), "nope", nil); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("unknown id = %v", err)
	}

	out, _ := f.g.RunCommand(context.Background(), "reboot")
	if _, err := f.g.Approve(context.Background(), out.Request.ID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.g.Approve(context.Background(), out.Request.ID, nil); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second approve = %v", err)
	}
	if f.runner.count() != 1 {
		t.Errorf("executed %d times", f.runner.count())
	}
}

func TestConcurrentApproveExecutesOnce(t *testing.T) {
	f := newFixture()
	out, _ := f.g.RunCommand(context.Background(), "systemctl restart api")

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.g.Approve(context.Background(), out.Request.ID, nil)
			if err == nil {
				ok.Add(1)
				return
			}
			if !errors.Is(err, approval.ErrAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || f.runner.count() != 1 {
		t.Errorf("successes = %d, executions = %d", ok.Load(), f.runner.count())
	}
}

func TestDeny(t *testing.T) {
	f := newFixture()
	out, _ := f.g.RunCommand(context.Background(), "reboot")

	denied, err := f.g.Deny(out.Request.ID)
	if err != nil || denied.Status != approval.StatusDenied {
		t.Fatalf("Deny = %+v, %v", denied, err)
	}
	if _, err := f.g.Approve(context.Background(), out.Request.ID, nil); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("approve after deny = %v", err)
	}
	if f.runner.count() != 0 {
		t.Error("denied command executed")
	}
	if _, err := f.g.Deny("missing"); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("deny missing = %v", err)
	}
}

func TestAlert(t *testing.T) {
	f := newFixture()
	if err := f.g.Alert(context.Background(), "db down"); err != nil {
		t.Fatal(err)
	}
	text := f.notifier.texts[0]
	if !strings.Contains(text, "OPS-GUARDIAN ALERT") || !strings.Contains(text, "db down") || !strings.Contains(text, "?action=review_incident") {
		t.Errorf("alert = %q", text)
	}

	g := New(Options{Runner: &fakeRunner{}, Queue: approval.NewQueue(nil)})
	if err := g.Alert(context.Background(), "x"); err == nil {
		t.Error("expected error without notifier")
	}
}

type panickyRestarter struct{}

func (panickyRestarter) Restart(context.Context, string) (string, error) { panic("boom") }

func TestApprovePanicStillCompletes(t *testing.T) {
	g := New(Options{Runner: &fakeRunner{}, Queue: approval.NewQueue(nil), Restarter: panickyRestarter{}})
	req := g.RequestRestart(context.Background(), "x")

	done, err := g.Approve(context.Background(), req.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != approval.StatusExecuted || !strings.Contains(done.Result, "panicked") {
		t.Errorf("request = %+v", done)
	}
}
