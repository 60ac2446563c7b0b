package security

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func tempWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ws := filepath.Join(dir, "workspace")
	if err := os.MkdirAll(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "test.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ws
}

func TestResolveWithin_Allowed(t *testing.T) {
	ws := tempWorkspace(t)

	for _, name := range []string{"test.txt", "new.md", "./test.txt", "sub/../test.txt"} {
		got, err := ResolveWithin(ws, name)
		if err != nil {
			t.Errorf("ResolveWithin(%q): %v", name, err)
			continue
		}
		if !filepath.IsAbs(got) {
			t.Errorf("ResolveWithin(%q) returned relative path %q", name, got)
		}
	}
}

func TestResolveWithin_TraversalBlocked(t *testing.T) {
	ws := tempWorkspace(t)

	for _, name := range []string{"../escape.txt", "../../etc/passwd", "/etc/passwd", ".", "", "a\x00b"} {
		if _, err := ResolveWithin(ws, name); !errors.Is(err, ErrPathTraversal) {
			t.Errorf("ResolveWithin(%q) error = %v, want ErrPathTraversal", name, err)
		}
	}
}

func TestResolveWithin_SymlinkEscapeBlocked(t *testing.T) {
	ws := tempWorkspace(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(ws, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if _, err := ResolveWithin(ws, "link/secret.txt"); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("expected symlink escape to be blocked, got %v", err)
	}
}

func TestIsSubpath(t *testing.T) {
	if !isSubpath("/a/b/c", "/a/b") {
		t.Error("expected /a/b/c within /a/b")
	}
	if isSubpath("/a/bc", "/a/b") {
		t.Error("/a/bc must not be within /a/b")
	}
}
