package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentcoord/coordhub/internal/types"
)

const participantColumns = `id, capabilities_json, status, last_seen, default_priority, metadata_json`

func scanParticipant(row interface{ Scan(dest ...any) error }) (*types.Participant, error) {
	var (
		p           types.Participant
		capsJSON    string
		status      string
		lastSeen    string
		defPriority string
		metaJSON    string
	)
	if err := row.Scan(&p.ID, &capsJSON, &status, &lastSeen, &defPriority, &metaJSON); err != nil {
		return nil, err
	}
	p.Capabilities = unmarshalStrings(capsJSON)
	p.Status = types.ParticipantStatus(status)
	p.DefaultPriority = types.Priority(defPriority)
	var err error
	if p.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &p.Metadata)
	}
	return &p, nil
}

// seedReservedParticipants ensures the reserved system actor has a row in
// participants, so messages attributed to it (compaction summaries,
// auto_compact) satisfy the from_id foreign key (schema.go) without
// requiring callers to register it through the normal, reserved-id-
// rejecting Registry.Register path (types.ValidateForRegister forbids
// "@system" for user registration by design). Idempotent: run on every
// Open.
func seedReservedParticipants(ctx context.Context, q querier) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO participants (id, capabilities_json, status, last_seen, default_priority, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, types.ReservedSystemParticipant, marshalStrings([]string{"system"}), string(types.ParticipantActive), formatTime(time.Now().UTC()), string(types.PriorityMedium), "{}")
	return wrapDBErrorf(err, "seed participant %s", types.ReservedSystemParticipant)
}

// InsertParticipant inserts a new participant row, failing ErrConflict if
// the id already exists.
func InsertParticipant(ctx context.Context, q querier, p *types.Participant) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO participants (id, capabilities_json, status, last_seen, default_priority, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, marshalStrings(p.Capabilities), string(p.Status), formatTime(p.LastSeen), string(p.DefaultPriority), string(meta))
	if err != nil {
		if isUniqueConstraint(err) {
			return fmt.Errorf("participant %s: %w", p.ID, ErrConflict)
		}
		return wrapDBErrorf(err, "insert participant %s", p.ID)
	}
	return nil
}

// GetParticipant returns a participant by id, or ErrNotFound.
func GetParticipant(ctx context.Context, q querier, id string) (*types.Participant, error) {
	row := q.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get participant %s", id)
	}
	return p, nil
}

// ListParticipants returns participants ordered by id, optionally
// filtered by status.
func ListParticipants(ctx context.Context, q querier, status types.ParticipantStatus) ([]*types.Participant, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = q.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE status = ? ORDER BY id`, string(status))
	} else {
		rows, err = q.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY id`)
	}
	if err != nil {
		return nil, wrapDBError("list participants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapDBError("scan participant row", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("iterate participant rows", rows.Err())
}

// UpdateParticipant writes back a fully-merged participant record.
func UpdateParticipant(ctx context.Context, q querier, p *types.Participant) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	return UpdateParticipantFields(ctx, q, p.ID,
		"capabilities_json = ?, status = ?, last_seen = ?, default_priority = ?, metadata_json = ?",
		marshalStrings(p.Capabilities), string(p.Status), formatTime(p.LastSeen), string(p.DefaultPriority), string(meta),
	)
}

// UpdateParticipantFields applies a sparse update by id.
func UpdateParticipantFields(ctx context.Context, q querier, id string, sets string, args ...any) error {
	args = append(args, id)
	res, err := q.ExecContext(ctx, fmt.Sprintf("UPDATE participants SET %s WHERE id = ?", sets), args...)
	if err != nil {
		return wrapDBErrorf(err, "update participant %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("update participant %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteParticipant hard-deletes a participant row.
func DeleteParticipant(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM participants WHERE id = ?`, id)
	if err != nil {
		return wrapDBErrorf(err, "delete participant %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("delete participant %s: %w", id, ErrNotFound)
	}
	return nil
}

// StaleParticipants returns inactive participants whose last_seen is
// older than the cutoff (cleanup_stale, §4.2).
func StaleParticipants(ctx context.Context, q querier, cutoff string) ([]*types.Participant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+participantColumns+` FROM participants
		WHERE status = 'inactive' AND last_seen < ?
	`, cutoff)
	if err != nil {
		return nil, wrapDBError("list stale participants", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapDBError("scan stale participant row", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("iterate stale participant rows", rows.Err())
}

func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "constraint failed")
}
