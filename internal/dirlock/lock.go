// Package dirlock implements the exclusive, cross-process lock that guards
// mutating access to a coordination data directory (§4.1). Acquisition is
// create-or-fail on a well-known lock file; a lock is considered stale and is
// removed automatically when its recorded owner process is gone or its age
// exceeds staleAge, matching the contract every engine process relies on to
// share a project-local data directory safely.
package dirlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// ErrLocked identifies a lock held by another live process. Acquire does
// not return it (an exhausted retry budget yields ErrLockTimeout); IsLocked
// matches either error.
var ErrLocked = errors.New("coordination lock already held by another process")

// ErrLockTimeout is returned when the bounded retry budget elapses without
// acquiring the lock.
var ErrLockTimeout = errors.New("dirlock: timed out waiting for lock")

// staleAge is the maximum age a lock file may reach before it is considered
// abandoned regardless of whether its recorded process is still alive.
const staleAge = 5 * time.Minute

const (
	defaultMaxAttempts = 50
	defaultRetryDelay  = 100 * time.Millisecond
	lockSubdir         = "locks"
	lockFileName       = "coordination.lock"
)

// EngineVersion is stamped into the lock payload for diagnostics. Callers
// embedding this package may override it at init time.
var EngineVersion = "dev"

// payload is the small diagnostic blob written into the lock file. It plays
// no role in correctness — exclusive create-or-fail is what makes the lock
// safe — but lets doctor-style tooling explain who is holding it.
type payload struct {
	ID         string    `json:"id"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Version    string    `json:"version"`
	Hostname   string    `json:"hostname,omitempty"`
}

// Options configures a single Acquire call. The zero value uses the
// documented defaults (50 attempts, 100ms apart).
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	return o
}

// Lock represents a held exclusive lock on a coordination data directory.
// The zero value is not usable; obtain one via Acquire.
type Lock struct {
	path string
	file *os.File
}

// Path returns the filesystem path of the lock file, mainly for logging.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release deletes the lock file, freeing it for the next acquirer. Failure
// to remove the file is non-fatal: it is returned to the caller to log, but
// the in-process handle is always released first.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = unlockFile(l.file)
	closeErr := l.file.Close()
	l.file = nil
	removeErr := os.Remove(l.path)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("dirlock: release %s: %w", l.path, errors.Join(closeErr, removeErr))
	}
	return closeErr
}

// Acquire acquires the exclusive coordination lock under dataDir
// (dataDir/locks/coordination.lock), retrying with the default budget
// (50 attempts, 100ms apart) and removing stale locks it finds along the way.
func Acquire(ctx context.Context, dataDir string) (*Lock, error) {
	return AcquireWithOptions(ctx, dataDir, Options{})
}

// AcquireWithOptions is Acquire with a caller-supplied retry budget.
func AcquireWithOptions(ctx context.Context, dataDir string, opts Options) (*Lock, error) {
	opts = opts.withDefaults()

	lockDir := filepath.Join(dataDir, lockSubdir)
	if err := os.MkdirAll(lockDir, 0o700); err != nil {
		return nil, fmt.Errorf("dirlock: create lock dir: %w", err)
	}
	lockPath := filepath.Join(lockDir, lockFileName)

	bo := backoff.NewConstantBackOff(opts.RetryDelay)

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		l, err := tryCreate(lockPath)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		if removeIfStale(lockPath) {
			// Stale lock cleared: retry immediately, no backoff wait.
			continue
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, ErrLockTimeout
}

func tryCreate(lockPath string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("dirlock: flock %s: %w", lockPath, err)
	}
	if err := writePayload(f); err != nil {
		_ = unlockFile(f)
		_ = f.Close()
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("dirlock: write payload: %w", err)
	}
	return &Lock{path: lockPath, file: f}, nil
}

// removeIfStale inspects an existing lock file and deletes it if its owner
// process is gone or its age exceeds staleAge (§4.1). Returns true if the
// file was removed.
func removeIfStale(lockPath string) bool {
	data, err := os.ReadFile(lockPath) // #nosec G304 -- path constructed from a trusted data directory
	if err != nil {
		return false
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		// Unparseable payload: treat conservatively as not stale rather than
		// yanking a lock we don't understand.
		return false
	}
	stale := !processAlive(p.PID) || time.Since(p.AcquiredAt) > staleAge
	if !stale {
		return false
	}
	return os.Remove(lockPath) == nil
}

func writePayload(f *os.File) error {
	host, _ := os.Hostname()
	p := payload{
		ID:         uuid.NewString(),
		PID:        os.Getpid(),
		AcquiredAt: time.Now().UTC(),
		Version:    EngineVersion,
		Hostname:   host,
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return err
	}
	return f.Sync()
}

// IsLocked reports whether err indicates another live process holds the lock.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked) || errors.Is(err, ErrLockTimeout)
}
