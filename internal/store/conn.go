package store

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// connString builds a SQLite connection string for the coordination
// database, honoring the COORD_LOCK_TIMEOUT env var for busy_timeout
// (default 30s). Mirrors the teacher's storage.SQLiteConnString, adapted
// to this engine's pragma set (§6.3: WAL, synchronous=NORMAL, foreign
// keys on, temp store in memory).
func connString(path string) string {
	path = strings.TrimSpace(path)

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("COORD_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)",
		path, busyMs,
	)
}
