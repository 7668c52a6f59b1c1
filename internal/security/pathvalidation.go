// Package security checks user-supplied paths before the commands write
// plots and charts to them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideAllowedDirs = errors.New("path is outside the allowed directories")

// canonical resolves symlinks in the deepest existing ancestor of path, so a
// file that does not exist yet is judged by where it would really be created.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	existing, rest := abs, ""
	for {
		if resolved, err := filepath.EvalSymlinks(existing); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(existing), rest)
		existing = parent
	}
}

// ValidatePathWithinDirectory rejects filePath when it resolves outside dir.
func ValidatePathWithinDirectory(filePath, dir string) error {
	path, err := canonical(filePath)
	if err != nil {
		return err
	}
	root, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("%s: %w", filePath, ErrOutsideAllowedDirs)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", filePath, dir)
	}
	return nil
}

// ValidatePathWithinAllowedDirs accepts filePath when it is inside any of dirs.
func ValidatePathWithinAllowedDirs(filePath string, dirs []string) error {
	if len(dirs) == 0 {
		return errors.New("no allowed directories specified")
	}
	for _, dir := range dirs {
		if ValidatePathWithinDirectory(filePath, dir) == nil {
			return nil
		}
	}
	return fmt.Errorf("%s: %w %v", filePath, ErrOutsideAllowedDirs, dirs)
}

// ValidateExportPath accepts paths inside the working directory or the temp
// directory.
func ValidateExportPath(filePath string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	return ValidatePathWithinAllowedDirs(filePath, []string{os.TempDir(), cwd})
}

// WriteExportFile validates path and writes data to it.
func WriteExportFile(path string, data []byte) error {
	if err := ValidateExportPath(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
