package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, ".coordination", cfg.DataDirectory)
	require.Equal(t, 30, cfg.ArchiveDays)
	require.Equal(t, 1_000_000, cfg.TokenLimit)
	require.True(t, cfg.AutoCompact)
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Equal(t, Default(), cfg)
}

func TestLoadFromParsesYAMLAndFillsOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordination.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
participant_id: "@backend"
archive_days: 14
participants: ["@backend", "@mobile"]
`), 0o600))

	cfg := LoadFrom(path)
	require.Equal(t, "@backend", cfg.ParticipantID)
	require.Equal(t, 14, cfg.ArchiveDays)
	require.Equal(t, ".coordination", cfg.DataDirectory)
	require.Equal(t, []string{"@backend", "@mobile"}, cfg.Participants)
}

func TestLoadFromUnparsableFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coordination.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o600))

	cfg := LoadFrom(path)
	require.Equal(t, Default(), cfg)
}

func TestAbsDataDirectoryJoinsRelativePaths(t *testing.T) {
	cfg := Default()
	require.Equal(t, filepath.Join("/base", ".coordination"), cfg.AbsDataDirectory("/base"))

	cfg.DataDirectory = "/abs/data"
	require.Equal(t, "/abs/data", cfg.AbsDataDirectory("/base"))
}
