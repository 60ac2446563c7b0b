package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveWithin joins name onto root and returns the absolute, symlink
// resolved path. It fails with ErrPathTraversal when the result is not a
// descendant of root.
func ResolveWithin(root, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("path contains null byte: %w", ErrPathTraversal)
	}
	if name == "" {
		return "", fmt.Errorf("empty path: %w", ErrPathTraversal)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve root: %w", err)
	}
	rootResolved, err := resolveSymlinks(absRoot)
	if err != nil {
		rootResolved = absRoot
	}

	candidate := name
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(rootResolved, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveSymlinks(candidate)
	if err != nil {
		return "", fmt.Errorf("cannot resolve symlinks: %w", err)
	}

	// The root itself is not a file anyone should address.
	if resolved == rootResolved || !isSubpath(resolved, rootResolved) {
		return "", fmt.Errorf("%q resolves outside %q: %w", name, root, ErrPathTraversal)
	}
	return resolved, nil
}

// resolveSymlinks resolves symlinks, falling back to resolving the parent for non-existent paths.
func resolveSymlinks(absPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			parent := filepath.Dir(absPath)
			resolvedParent, err2 := filepath.EvalSymlinks(parent)
			if err2 != nil {
				return absPath, nil // best effort
			}
			return filepath.Join(resolvedParent, filepath.Base(absPath)), nil
		}
		return absPath, nil
	}
	return resolved, nil
}

// isSubpath checks if child is equal to or a subdirectory of parent.
func isSubpath(child, parent string) bool {
	if child == parent {
		return true
	}
	prefix := parent + string(filepath.Separator)
	return strings.HasPrefix(child, prefix)
}
