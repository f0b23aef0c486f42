package compaction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const archiveSubdir = "messages/archive"

// writeArchiveSidecar writes content straight into the dated archive
// directory rather than the active tree, for synthetic messages that are
// archived the moment they're created (summarize/consolidate output, §4.5).
func writeArchiveSidecar(dataDir string, at time.Time, filename, content string) (string, error) {
	dir := filepath.Join(dataDir, archiveSubdir, fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", at.Month()))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	abs := filepath.Join(dir, filename)
	if err := os.WriteFile(abs, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write archive sidecar: %w", err)
	}
	return filepath.Rel(dataDir, abs)
}

// archiveSidecarFile moves an existing active-tree sidecar to the dated
// archive directory, mirroring internal/messages' archiveSidecar. Must be
// called after the owning transaction commits (§9 design note).
func archiveSidecarFile(dataDir, contentRef string, at time.Time) (string, error) {
	if contentRef == "" {
		return "", nil
	}
	src := filepath.Join(dataDir, contentRef)
	destDir := filepath.Join(dataDir, archiveSubdir, fmt.Sprintf("%04d", at.Year()), fmt.Sprintf("%02d", at.Month()))
	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}
	dest := filepath.Join(destDir, filepath.Base(src))
	if err := os.Rename(src, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("move sidecar to archive: %w", err)
	}
	return filepath.Rel(dataDir, dest)
}
