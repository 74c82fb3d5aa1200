// Package archive stores downloaded media under one root directory.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Guard resolves file names against the archive root and rejects anything that escapes it.
type Guard struct {
	rootPath string
}

// NewGuard resolves root, creating it when missing.
func NewGuard(root string) (*Guard, error) {
	resolved, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	return &Guard{rootPath: resolved}, nil
}

func resolveRoot(root string) (string, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return "", NewError(ErrorInvalidName, "archive directory must not be empty")
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute archive path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", normalizeIOError(err, "resolve archive root")
	}

	return filepath.Clean(resolved), nil
}

func (g *Guard) Root() string {
	if g == nil {
		return ""
	}
	return g.rootPath
}

// ResolvePath returns the absolute path for a file name inside the archive.
func (g *Guard) ResolvePath(name string) (string, error) {
	if g == nil {
		return "", NewError(ErrorIO, "archive guard is nil")
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", NewError(ErrorInvalidName, "file name must not be empty")
	}
	if filepath.IsAbs(trimmed) {
		return "", NewError(ErrorOutsideArchive, "absolute paths are not allowed")
	}

	effectivePath, err := canonicalPath(filepath.Join(g.rootPath, trimmed))
	if err != nil {
		return "", err
	}
	if !isWithin(g.rootPath, effectivePath) {
		return "", NewError(ErrorOutsideArchive, "resolved path escapes archive")
	}

	return effectivePath, nil
}

// EnsureContained re-checks containment right before writing.
func (g *Guard) EnsureContained(path string) error {
	effectivePath, err := canonicalPath(path)
	if err != nil {
		return err
	}
	if !isWithin(g.rootPath, effectivePath) {
		return NewError(ErrorOutsideArchive, "resolved path escapes archive")
	}
	return nil
}

// RelPath returns an archive-relative path when representable.
func (g *Guard) RelPath(path string) string {
	rel, err := filepath.Rel(g.rootPath, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return filepath.Clean(path)
	}
	return filepath.Clean(rel)
}

func canonicalPath(path string) (string, error) {
	evaluated, err := filepath.EvalSymlinks(path)
	if err == nil {
		return filepath.Clean(evaluated), nil
	}
	if !os.IsNotExist(err) {
		return "", normalizeIOError(err, "resolve path")
	}

	parent, remainder, splitErr := nearestExistingParent(path)
	if splitErr != nil {
		return "", splitErr
	}

	evaluatedParent, evalErr := filepath.EvalSymlinks(parent)
	if evalErr != nil {
		return "", normalizeIOError(evalErr, "resolve path")
	}

	return filepath.Clean(filepath.Join(evaluatedParent, remainder)), nil
}

func nearestExistingParent(path string) (string, string, error) {
	current := filepath.Clean(path)
	var parts []string

	for {
		if _, err := os.Lstat(current); err == nil {
			remainder := ""
			for i := len(parts) - 1; i >= 0; i-- {
				remainder = filepath.Join(remainder, parts[i])
			}
			return current, remainder, nil
		}

		base := filepath.Base(current)
		if base == "." || base == string(filepath.Separator) {
			break
		}
		parts = append(parts, base)

		next := filepath.Dir(current)
		if next == current {
			break
		}
		current = next
	}

	return "", "", NewError(ErrorInvalidName, "path could not be resolved")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], string(filepath.Separator))), nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
