// ABOUTME: Startup artifact capability: hide and delete the agent's bootstrap file
// ABOUTME: Uses the hidden attribute on Windows and dot-prefix renames elsewhere

package host

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNoArtifact is returned when no startup artifact path is configured.
var ErrNoArtifact = errors.New("no startup artifact configured")

// Artifact implements command.Artifact on the local filesystem. A missing
// artifact is a failed operation, not a no-op: the terminate stages report
// it so the operator knows the bootstrap file was not where expected.
type Artifact struct{}

// Exists reports whether the artifact is present at path.
func (Artifact) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Hide makes the artifact invisible to a casual directory listing: the
// hidden attribute on Windows, a dot-prefix rename elsewhere.
func (a Artifact) Hide(path string) error {
	if path == "" {
		return ErrNoArtifact
	}
	if !a.Exists(path) {
		return fmt.Errorf("startup artifact %s: %w", path, os.ErrNotExist)
	}

	if runtime.GOOS == "windows" {
		if out, err := exec.Command("attrib", "+H", path).CombinedOutput(); err != nil {
			return fmt.Errorf("setting hidden attribute: %v: %s", err, strings.TrimSpace(string(out)))
		}
		return nil
	}

	hidden := hiddenPath(path)
	if hidden == path {
		return nil
	}
	if err := os.Rename(path, hidden); err != nil {
		return fmt.Errorf("renaming artifact: %w", err)
	}
	return nil
}

// Delete removes the artifact. On Windows the hidden attribute is cleared
// first; elsewhere a previously hidden rename is still found and removed.
func (a Artifact) Delete(path string) error {
	if path == "" {
		return ErrNoArtifact
	}

	target := path
	if !a.Exists(target) {
		hidden := hiddenPath(path)
		if runtime.GOOS == "windows" || !a.Exists(hidden) {
			return fmt.Errorf("startup artifact %s: %w", path, os.ErrNotExist)
		}
		target = hidden
	}

	if runtime.GOOS == "windows" {
		// Clearing the attribute mirrors what operators do by hand; the
		// remove below works either way.
		_ = exec.Command("attrib", "-H", target).Run()
	}

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}

// hiddenPath returns the dot-prefixed sibling of path, or path itself if
// its base name is already hidden.
func hiddenPath(path string) string {
	dir, base := filepath.Split(path)
	if strings.HasPrefix(base, ".") {
		return path
	}
	return filepath.Join(dir, "."+base)
}
