package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the current baseline schema revision. Additive changes
// ship as entries in migrations below rather than edits to baseSchema, the
// same discipline the teacher's sqlite/migrations package follows.
const schemaVersion = 1

// baseSchema creates every table and trigger a fresh data directory needs.
// Column names are snake_case to match the teacher's sqlite schema style.
const baseSchema = `
CREATE TABLE IF NOT EXISTS participants (
	id                TEXT PRIMARY KEY,
	capabilities_json TEXT NOT NULL DEFAULT '[]',
	status            TEXT NOT NULL DEFAULT 'active',
	last_seen         TEXT NOT NULL,
	default_priority  TEXT NOT NULL DEFAULT 'M',
	metadata_json     TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS messages (
	id                       TEXT PRIMARY KEY,
	thread_id                TEXT NOT NULL,
	from_id                  TEXT NOT NULL REFERENCES participants(id),
	to_json                  TEXT NOT NULL,
	type                     TEXT NOT NULL,
	priority                 TEXT NOT NULL,
	status                   TEXT NOT NULL DEFAULT 'pending',
	subject                  TEXT NOT NULL,
	summary                  TEXT NOT NULL,
	content_ref              TEXT,
	created_at               TEXT NOT NULL,
	updated_at               TEXT NOT NULL,
	expires_at               TEXT,
	response_required        INTEGER NOT NULL DEFAULT 0,
	dependencies_json        TEXT NOT NULL DEFAULT '[]',
	tags_json                TEXT NOT NULL DEFAULT '[]',
	suggested_approach_json  TEXT,
	resolution_status        TEXT,
	resolved_at              TEXT,
	resolved_by              TEXT,
	semantic_vector          BLOB
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_messages_expires_at ON messages(expires_at);

CREATE TABLE IF NOT EXISTS conversations (
	thread_id           TEXT PRIMARY KEY,
	participants_json    TEXT NOT NULL DEFAULT '[]',
	topic                TEXT NOT NULL DEFAULT '',
	tags_json            TEXT NOT NULL DEFAULT '[]',
	created_at           TEXT NOT NULL,
	last_activity        TEXT NOT NULL,
	status               TEXT NOT NULL DEFAULT 'active',
	resolution_summary   TEXT NOT NULL DEFAULT '',
	message_count        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
	id UNINDEXED,
	subject,
	summary,
	tags,
	tokenize = 'unicode61'
);

CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
	INSERT INTO messages_fts(id, subject, summary, tags)
	VALUES (new.id, new.subject, new.summary, new.tags_json);
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
	DELETE FROM messages_fts WHERE id = old.id;
END;

CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
	DELETE FROM messages_fts WHERE id = old.id;
	INSERT INTO messages_fts(id, subject, summary, tags)
	VALUES (new.id, new.subject, new.summary, new.tags_json);
END;
`

// migration is one additive, idempotent schema change applied in order
// after baseSchema, tracked in metadata under "schema_version". Grounded on
// the teacher's internal/storage/sqlite/migrations package (e.g.
// 002_external_ref_column.go): check PRAGMA table_info before ALTER, wrap
// every step.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, db *sql.DB) error
}

var migrations = []migration{
	{
		version: 2,
		name:    "indexed_tags_column",
		apply: func(ctx context.Context, db *sql.DB) error {
			exists, err := columnExists(ctx, db, "messages", "indexed_tags_json")
			if err != nil {
				return err
			}
			if !exists {
				if _, err := db.ExecContext(ctx, `ALTER TABLE messages ADD COLUMN indexed_tags_json TEXT NOT NULL DEFAULT '[]'`); err != nil {
					return fmt.Errorf("add indexed_tags_json column: %w", err)
				}
			}
			return nil
		},
	},
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("check schema of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("scan column info for %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// migrateSchema creates the base schema then applies any pending additive
// migrations, recording the highest applied version in metadata.
func migrateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, baseSchema); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	current, err := appliedVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := db.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, fmt.Sprintf("%d", m.version)); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func appliedVersion(ctx context.Context, db *sql.DB) (int, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = 'schema_version'`).Scan(&value)
	if err == sql.ErrNoRows {
		return schemaVersion, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return schemaVersion, nil
	}
	return v, nil
}
