// Package scratch manages per-job working directories under the configured
// scratch root. Every job gets an isolated directory that is removed when the
// job reaches a terminal state, regardless of outcome.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is an isolated working directory for a single job.
type Workspace struct {
	root string
}

// Create builds the workspace directory for the given job identifier.
func Create(scratchDir, jobID string) (*Workspace, error) {
	scratchDir = strings.TrimSpace(scratchDir)
	if scratchDir == "" {
		return nil, fmt.Errorf("scratch: empty scratch directory")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("scratch: empty job id")
	}

	root := filepath.Join(scratchDir, jobID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("scratch: create workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace directory path.
func (w *Workspace) Root() string {
	return w.root
}

// InputPath returns the path for a downloaded input with the given name.
func (w *Workspace) InputPath(name string) string {
	return filepath.Join(w.root, name)
}

// OutputPath returns the path the encoder should write its result to.
func (w *Workspace) OutputPath(format string) string {
	format = strings.TrimSpace(strings.TrimPrefix(format, "."))
	if format == "" {
		format = "mp4"
	}
	return filepath.Join(w.root, "output."+format)
}

// Cleanup removes the workspace directory and everything under it.
func (w *Workspace) Cleanup() error {
	if w == nil || w.root == "" {
		return nil
	}
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("scratch: cleanup workspace: %w", err)
	}
	return nil
}

// Sweep removes orphaned workspaces left behind by a previous process. Active
// job identifiers are preserved.
func Sweep(scratchDir string, activeJobIDs map[string]struct{}) error {
	entries, err := os.ReadDir(scratchDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scratch: read scratch directory: %w", err)
	}

	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, active := activeJobIDs[entry.Name()]; active {
			continue
		}
		if err := os.RemoveAll(filepath.Join(scratchDir, entry.Name())); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("scratch: sweep workspace %s: %w", entry.Name(), err)
		}
	}
	return firstErr
}
