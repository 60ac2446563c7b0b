// Package workspace is the only directory the decision service may read,
// write or delete files in.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/clawinfra/opsguardian/internal/security"
)

const (
	// SystemInstructionFile holds the operator's editable instructions.
	SystemInstructionFile = "system_instruction.txt"

	DefaultMaxContextFiles = 5
	DefaultMaxExtraFiles   = 5

	defaultInstruction = "Additional User Instructions:\n(Add your custom rules here)"
	scratchPrefix      = "approved_script_"
)

var (
	// ErrPathTraversal is returned for names resolving outside the root.
	ErrPathTraversal = security.ErrPathTraversal
	// ErrQuotaExceeded is returned when creating a file would exceed its category limit.
	ErrQuotaExceeded = errors.New("workspace: file limit reached")
	// ErrProtected is returned when the agent touches the system instruction.
	ErrProtected = errors.New("workspace: file is protected")
	// ErrNotFound is returned for missing files.
	ErrNotFound = errors.New("workspace: file does not exist")
	// ErrReservedName is returned for names the runtime reserves for itself.
	ErrReservedName = errors.New("workspace: reserved file name")
)

// Origin tells the workspace who is asking.
type Origin int

const (
	// OriginOperator is a human using the API.
	OriginOperator Origin = iota
	// OriginAgent is the decision service calling a tool.
	OriginAgent
)

// Category groups files for quota accounting.
type Category int

const (
	CategoryInstruction Category = iota
	CategoryContext
	CategoryExtra
)

// Categorize reports which quota bucket name falls into.
func Categorize(name string) Category {
	base := filepath.Base(name)
	switch {
	case base == SystemInstructionFile:
		return CategoryInstruction
	case strings.HasSuffix(base, ".md"), strings.HasSuffix(base, ".txt"):
		return CategoryContext
	default:
		return CategoryExtra
	}
}

// File is one workspace file and its text.
type File struct {
	Name    string
	Content string
}

// Snapshot is the workspace content the decision service reasons over.
type Snapshot struct {
	Instruction string
	Files       []File
}

// Options configures quotas.
type Options struct {
	MaxContextFiles int
	MaxExtraFiles   int
}

// Workspace guards a single root directory.
type Workspace struct {
	root       string
	maxContext int
	maxExtra   int
	logger     *slog.Logger

	mu        sync.Mutex
	listeners []func(Snapshot)
}

// New opens (creating if needed) the workspace at root.
func New(root string, opts Options, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	w := &Workspace{
		root:       abs,
		maxContext: opts.MaxContextFiles,
		maxExtra:   opts.MaxExtraFiles,
		logger:     logger.With("component", "workspace"),
	}
	if w.maxContext <= 0 {
		w.maxContext = DefaultMaxContextFiles
	}
	if w.maxExtra <= 0 {
		w.maxExtra = DefaultMaxExtraFiles
	}
	if _, err := w.ensureInstruction(); err != nil {
		return nil, err
	}
	return w, nil
}

// Root returns the absolute workspace directory.
func (w *Workspace) Root() string { return w.root }

// OnChange registers fn to receive a fresh Snapshot after every successful
// write or delete. fn runs synchronously before the mutating call returns
// and must not call back into the workspace.
func (w *Workspace) OnChange(fn func(Snapshot)) {
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// List returns the names of the regular files at the top of the workspace.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !isScratch(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Read returns the content of name.
func (w *Workspace) Read(name string) (string, error) {
	path, err := security.ResolveWithin(w.root, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), nil
}

// Write stores content under name. Creating a file is subject to the
// category quota; overwriting an existing file never is. It reports whether
// the file was newly created.
func (w *Workspace) Write(origin Origin, name, content string) (bool, error) {
	if isScratch(filepath.Base(name)) {
		return false, fmt.Errorf("%s: %w", name, ErrReservedName)
	}
	if origin == OriginAgent && Categorize(name) == CategoryInstruction {
		return false, fmt.Errorf("cannot modify %s: %w", SystemInstructionFile, ErrProtected)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := security.ResolveWithin(w.root, name)
	if err != nil {
		return false, err
	}

	created := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		created = true
		if err := w.checkQuota(name); err != nil {
			return false, err
		}
	}

	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		return false, fmt.Errorf("write %s: %w", name, err)
	}
	w.logger.Info("workspace file written", "file", name, "created", created, "origin", origin.String())

	w.notifyLocked()
	return created, nil
}

// Delete removes name. The agent may not delete the system instruction.
func (w *Workspace) Delete(origin Origin, name string) error {
	if origin == OriginAgent && Categorize(name) == CategoryInstruction {
		return fmt.Errorf("cannot delete %s: %w", SystemInstructionFile, ErrProtected)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := security.ResolveWithin(w.root, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", name, err)
	}
	w.logger.Info("workspace file deleted", "file", name, "origin", origin.String())

	w.notifyLocked()
	return nil
}

// Snapshot reads the instruction and every other readable text file.
func (w *Workspace) Snapshot() (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Rebuild re-reads the workspace and notifies listeners, for changes made
// outside this process.
func (w *Workspace) Rebuild() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifyLocked()
}

// CreateScratch writes content to a uniquely named file that is excluded
// from listings, quotas and the aggregated context. The caller must invoke
// the returned cleanup.
func (w *Workspace) CreateScratch(tag, ext, content string) (string, func(), error) {
	f, err := os.CreateTemp(w.root, scratchPrefix+tag+"_*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()
	cleanup := func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("failed to remove scratch file", "path", path, "error", err)
		}
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("close scratch file: %w", err)
	}
	return path, cleanup, nil
}

func (w *Workspace) checkQuota(name string) error {
	cat := Categorize(name)
	if cat == CategoryInstruction {
		return nil
	}

	names, err := w.List()
	if err != nil {
		return err
	}
	count := 0
	for _, n := range names {
		if Categorize(n) == cat {
			count++
		}
	}

	switch cat {
	case CategoryContext:
		if count >= w.maxContext {
			return fmt.Errorf("Limit reached for Context & Info files (Max %d): %w", w.maxContext, ErrQuotaExceeded)
		}
	case CategoryExtra:
		if count >= w.maxExtra {
			return fmt.Errorf("Limit reached for Extra Files (Max %d): %w", w.maxExtra, ErrQuotaExceeded)
		}
	}
	return nil
}

func (w *Workspace) ensureInstruction() (string, error) {
	path := filepath.Join(w.root, SystemInstructionFile)
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read system instruction: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultInstruction), 0o640); err != nil {
		return "", fmt.Errorf("create system instruction: %w", err)
	}
	return defaultInstruction, nil
}

func (w *Workspace) snapshotLocked() (Snapshot, error) {
	instruction, err := w.ensureInstruction()
	if err != nil {
		return Snapshot{}, err
	}
	names, err := w.List()
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Instruction: instruction}
	for _, name := range names {
		if name == SystemInstructionFile {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.root, name))
		if err != nil || !utf8.Valid(data) {
			continue // binary or unreadable
		}
		snap.Files = append(snap.Files, File{Name: name, Content: string(data)})
	}
	return snap, nil
}

func (w *Workspace) notifyLocked() {
	if len(w.listeners) == 0 {
		return
	}
	snap, err := w.snapshotLocked()
	if err != nil {
		w.logger.Error("failed to rebuild workspace context", "error", err)
		return
	}
	for _, fn := range w.listeners {
		fn(snap)
	}
}

func (o Origin) String() string {
	if o == OriginAgent {
		return "agent"
	}
	return "operator"
}

func isScratch(name string) bool {
	return strings.HasPrefix(name, scratchPrefix)
}
