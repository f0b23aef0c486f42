package messages

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	activeSubdir  = "messages/active"
	archiveSubdir = "messages/archive"
)

// activePath returns the path a sidecar lives at while its thread is
// active (§4.1).
func activePath(dataDir, threadID, messageID string) string {
	return filepath.Join(dataDir, activeSubdir, threadID, messageID+".md")
}

// writeSidecar writes raw content to its active-path location and
// returns the path relative to dataDir stored as content_ref.
func writeSidecar(dataDir, threadID, messageID, content string) (string, error) {
	abs := activePath(dataDir, threadID, messageID)
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return "", fmt.Errorf("create sidecar directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write sidecar: %w", err)
	}
	rel, err := filepath.Rel(dataDir, abs)
	if err != nil {
		return "", fmt.Errorf("relativize sidecar path: %w", err)
	}
	return rel, nil
}

// readSidecar reads a sidecar's content by its content_ref. A missing or
// unreadable file is reported via ok=false so callers can fall back to
// summary per §4.3's detail_level=full rule, rather than failing the
// whole request.
func readSidecar(dataDir, contentRef string) (content string, ok bool) {
	if contentRef == "" {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(dataDir, contentRef))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// archiveSidecar moves a sidecar from its active location to the dated
// archive directory, returning the new relative path. Must be called
// AFTER the owning store transaction has committed (§9 design note).
func archiveSidecar(dataDir, contentRef string, at time.Time) (string, error) {
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
	rel, err := filepath.Rel(dataDir, dest)
	if err != nil {
		return "", fmt.Errorf("relativize archive path: %w", err)
	}
	return rel, nil
}
