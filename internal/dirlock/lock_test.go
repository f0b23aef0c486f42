package dirlock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lock, err := Acquire(ctx, dir)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, lockSubdir, lockFileName))

	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, lockSubdir, lockFileName))
	require.True(t, os.IsNotExist(err))
}

func TestAcquireContendedTimesOut(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Acquire(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = first.Release() }()

	_, err = AcquireWithOptions(ctx, dir, Options{MaxAttempts: 3, RetryDelay: 5 * time.Millisecond})
	require.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquireRemovesStaleLockByDeadPID(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lockDir := filepath.Join(dir, lockSubdir)
	require.NoError(t, os.MkdirAll(lockDir, 0o700))
	lockPath := filepath.Join(lockDir, lockFileName)

	stale := payload{PID: 999999999, AcquiredAt: time.Now()}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, data, 0o600))

	lock, err := AcquireWithOptions(ctx, dir, Options{MaxAttempts: 5, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestAcquireRemovesStaleLockByAge(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	lockDir := filepath.Join(dir, lockSubdir)
	require.NoError(t, os.MkdirAll(lockDir, 0o700))
	lockPath := filepath.Join(lockDir, lockFileName)

	stale := payload{PID: os.Getpid(), AcquiredAt: time.Now().Add(-10 * time.Minute)}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(lockPath, data, 0o600))

	lock, err := AcquireWithOptions(ctx, dir, Options{MaxAttempts: 5, RetryDelay: time.Millisecond})
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}
