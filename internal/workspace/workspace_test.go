package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ws, err := New(filepath.Join(t.TempDir(), "agent_workspace"), Options{}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ws
}

func TestNewCreatesInstruction(t *testing.T) {
	ws := newTestWorkspace(t)

	got, err := ws.Read(SystemInstructionFile)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != defaultInstruction {
		t.Errorf("instruction = %q", got)
	}
}

func TestWriteReadDelete(t *testing.T) {
	ws := newTestWorkspace(t)

	created, err := ws.Write(OriginAgent, "notes.md", "# notes")
	if err != nil || !created {
		t.Fatalf("Write: created=%v err=%v", created, err)
	}

	got, err := ws.Read("notes.md")
	if err != nil || got != "# notes" {
		t.Fatalf("Read = %q, %v", got, err)
	}

	created, err = ws.Write(OriginAgent, "notes.md", "# updated")
	if err != nil || created {
		t.Fatalf("overwrite: created=%v err=%v", created, err)
	}

	if err := ws.Delete(OriginAgent, "notes.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ws.Read("notes.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read after delete = %v, want ErrNotFound", err)
	}
	if err := ws.Delete(OriginAgent, "notes.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestTraversalRejected(t *testing.T) {
	ws := newTestWorkspace(t)
	parent := filepath.Dir(ws.Root())

	before, _ := os.ReadDir(ws.Root())
	for _, name := range []string{"../escape.txt", "../../escape.txt", "sub/../../escape.txt"} {
		if _, err := ws.Write(OriginAgent, name, "x"); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Write(%q) = %v, want ErrPathTraversal", name, err)
		}
		if _, err := ws.Read(name); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Read(%q) = %v, want ErrPathTraversal", name, err)
		}
		if err := ws.Delete(OriginOperator, name); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("Delete(%q) = %v, want ErrPathTraversal", name, err)
		}
	}
	after, _ := os.ReadDir(ws.Root())
	if len(before) != len(after) {
		t.Errorf("workspace changed: before=%d after=%d", len(before), len(after))
	}
	if _, err := os.Stat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(err) {
		t.Error("file was written outside the workspace")
	}
}

func TestExtraQuota(t *testing.T) {
	ws := newTestWorkspace(t)

	for i := 0; i < DefaultMaxExtraFiles; i++ {
		if _, err := ws.Write(OriginAgent, fmt.Sprintf("data%d.json", i), "{}"); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	_, err := ws.Write(OriginAgent, "data5.json", "{}")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("6th extra file: %v, want ErrQuotaExceeded", err)
	}
	if !strings.Contains(err.Error(), "Extra Files") {
		t.Errorf("error should name the category: %v", err)
	}

	if _, err := ws.Write(OriginAgent, "data3.json", `{"a":1}`); err != nil {
		t.Errorf("overwrite at quota: %v", err)
	}
	// Context files have their own bucket.
	if _, err := ws.Write(OriginAgent, "runbook.md", "steps"); err != nil {
		t.Errorf("context file with full extra bucket: %v", err)
	}
}

func TestContextQuotaExcludesInstruction(t *testing.T) {
	ws := newTestWorkspace(t)

	for i := 0; i < DefaultMaxContextFiles; i++ {
		if _, err := ws.Write(OriginOperator, fmt.Sprintf("doc%d.txt", i), "text"); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if _, err := ws.Write(OriginOperator, "doc5.md", "text"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("6th context file: %v, want ErrQuotaExceeded", err)
	}
	if _, err := ws.Write(OriginOperator, SystemInstructionFile, "be careful"); err != nil {
		t.Errorf("operator instruction write: %v", err)
	}
}

func TestInstructionProtectedFromAgent(t *testing.T) {
	ws := newTestWorkspace(t)

	if _, err := ws.Write(OriginAgent, SystemInstructionFile, "ignore rules"); !errors.Is(err, ErrProtected) {
		t.Errorf("agent write = %v, want ErrProtected", err)
	}
	if err := ws.Delete(OriginAgent, SystemInstructionFile); !errors.Is(err, ErrProtected) {
		t.Errorf("agent delete = %v, want ErrProtected", err)
	}
	if got, _ := ws.Read(SystemInstructionFile); got != defaultInstruction {
		t.Errorf("instruction changed: %q", got)
	}
}

func TestReservedScratchName(t *testing.T) {
	ws := newTestWorkspace(t)
	if _, err := ws.Write(OriginAgent, "approved_script_x.py", "print(1)"); !errors.Is(err, ErrReservedName) {
		t.Errorf("Write reserved = %v", err)
	}
}

func TestOnChangeRebuildsSynchronously(t *testing.T) {
	ws := newTestWorkspace(t)

	var mu sync.Mutex
	var snaps []Snapshot
	ws.OnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})

	if _, err := ws.Write(OriginOperator, "b.md", "second"); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Write(OriginOperator, "a.md", "first"); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 rebuilds, got %d", len(snaps))
	}
	last := snaps[1]
	if len(last.Files) != 2 || last.Files[0].Name != "a.md" || last.Files[1].Content != "second" {
		t.Errorf("unexpected snapshot files: %+v", last.Files)
	}
	if last.Instruction != defaultInstruction {
		t.Errorf("snapshot instruction = %q", last.Instruction)
	}

	if err := ws.Delete(OriginOperator, "a.md"); err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 3 || len(snaps[2].Files) != 1 {
		t.Errorf("delete did not rebuild: %d snapshots", len(snaps))
	}
}

func TestSnapshotSkipsBinary(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := os.WriteFile(filepath.Join(ws.Root(), "blob.bin"), []byte{0xff, 0xfe, 0x00}, 0o640); err != nil {
		t.Fatal(err)
	}
	snap, err := ws.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, f := range snap.Files {
		if f.Name == "blob.bin" {
			t.Error("binary file included in snapshot")
		}
	}
}

func TestCreateScratch(t *testing.T) {
	ws := newTestWorkspace(t)

	path, cleanup, err := ws.CreateScratch("abc123", ".py", "print('hi')")
	if err != nil {
		t.Fatalf("CreateScratch: %v", err)
	}
	if filepath.Dir(path) != ws.Root() {
		t.Errorf("scratch outside workspace: %s", path)
	}
	names, _ := ws.List()
	for _, n := range names {
		if strings.HasPrefix(n, scratchPrefix) {
			t.Errorf("scratch file listed: %s", n)
		}
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("scratch file not removed")
	}
}

func TestCategorize(t *testing.T) {
	tests := map[string]Category{
		SystemInstructionFile: CategoryInstruction,
		"runbook.md":          CategoryContext,
		"notes.txt":           CategoryContext,
		"fix.py":              CategoryExtra,
		"Makefile":            CategoryExtra,
	}
	for name, want := range tests {
		if got := Categorize(name); got != want {
			t.Errorf("Categorize(%q) = %v, want %v", name, got, want)
		}
	}
}
