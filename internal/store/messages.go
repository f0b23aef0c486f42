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

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

// InsertMessage inserts a fully-populated message row. The caller is
// responsible for id/thread_id/created_at/summary/content_ref having
// already been computed (Message Manager's job, not the store's).
func InsertMessage(ctx context.Context, q querier, m *types.Message) error {
	var approachJSON sql.NullString
	if m.SuggestedApproach != nil {
		b, err := json.Marshal(m.SuggestedApproach)
		if err != nil {
			return fmt.Errorf("marshal suggested_approach: %w", err)
		}
		approachJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (
			id, thread_id, from_id, to_json, type, priority, status,
			subject, summary, content_ref, created_at, updated_at, expires_at,
			response_required, dependencies_json, tags_json, indexed_tags_json,
			suggested_approach_json, resolution_status, resolved_at, resolved_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.ThreadID, m.From, marshalStrings(m.To), string(m.Type), string(m.Priority), string(m.Status),
		m.Subject, m.Summary, nullIfEmpty(m.ContentRef), formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTimePtr(m.ExpiresAt),
		boolToInt(m.ResponseRequired), marshalStrings(m.Dependencies), marshalStrings(m.Tags), marshalStrings(m.Tags),
		approachJSON, nullIfEmpty(string(m.ResolutionStatus)), formatTimePtr(m.ResolvedAt), nullIfEmpty(m.ResolvedBy),
	)
	return wrapDBErrorf(err, "insert message %s", m.ID)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const messageColumns = `
	id, thread_id, from_id, to_json, type, priority, status, subject, summary,
	content_ref, created_at, updated_at, expires_at, response_required,
	dependencies_json, tags_json, suggested_approach_json, resolution_status,
	resolved_at, resolved_by
`

// rawMessageScan holds the scan destinations that need post-processing
// (JSON columns, nullable columns, timestamps) before they fit
// types.Message's fields.
type rawMessageScan struct {
	toJSON             string
	typ, pri, status   string
	contentRef         sql.NullString
	createdAt          string
	updatedAt          string
	expiresAt          sql.NullString
	responseRequired   int
	depsJSON, tagsJSON string
	approachJSON       sql.NullString
	resolutionStatus   sql.NullString
	resolvedAt         sql.NullString
	resolvedBy         sql.NullString
}

// dest returns scan destinations in messageColumns order, writing
// directly into m for the fields that need no conversion.
func (r *rawMessageScan) dest(m *types.Message) []any {
	return []any{
		&m.ID, &m.ThreadID, &m.From, &r.toJSON, &r.typ, &r.pri, &r.status, &m.Subject, &m.Summary,
		&r.contentRef, &r.createdAt, &r.updatedAt, &r.expiresAt, &r.responseRequired,
		&r.depsJSON, &r.tagsJSON, &r.approachJSON, &r.resolutionStatus, &r.resolvedAt, &r.resolvedBy,
	}
}

func (r *rawMessageScan) finalize(m *types.Message) error {
	m.To = unmarshalStrings(r.toJSON)
	m.Type = types.MessageType(r.typ)
	m.Priority = types.Priority(r.pri)
	m.Status = types.MessageStatus(r.status)
	if r.contentRef.Valid {
		m.ContentRef = r.contentRef.String
	}
	var err error
	if m.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	if m.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	if m.ExpiresAt, err = parseTimePtr(r.expiresAt); err != nil {
		return fmt.Errorf("parse expires_at: %w", err)
	}
	m.ResponseRequired = r.responseRequired != 0
	m.Dependencies = unmarshalStrings(r.depsJSON)
	m.Tags = unmarshalStrings(r.tagsJSON)
	if r.approachJSON.Valid {
		var v any
		if err := json.Unmarshal([]byte(r.approachJSON.String), &v); err == nil {
			m.SuggestedApproach = v
		}
	}
	if r.resolutionStatus.Valid {
		m.ResolutionStatus = types.ResolutionStatus(r.resolutionStatus.String)
	}
	if m.ResolvedAt, err = parseTimePtr(r.resolvedAt); err != nil {
		return fmt.Errorf("parse resolved_at: %w", err)
	}
	if r.resolvedBy.Valid {
		m.ResolvedBy = r.resolvedBy.String
	}
	return nil
}

func scanMessage(row interface {
	Scan(dest ...any) error
}) (*types.Message, error) {
	var m types.Message
	var r rawMessageScan
	if err := row.Scan(r.dest(&m)...); err != nil {
		return nil, err
	}
	if err := r.finalize(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// scanMessageWithRank scans a row whose final extra column is the FTS5
// rank, used by SearchFTS.
func scanMessageWithRank(row interface {
	Scan(dest ...any) error
}) (*types.Message, float64, error) {
	var m types.Message
	var r rawMessageScan
	var rank float64
	dest := append(r.dest(&m), &rank)
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}
	if err := r.finalize(&m); err != nil {
		return nil, 0, err
	}
	return &m, rank, nil
}

// GetMessageByID returns a message by id, or ErrNotFound.
func GetMessageByID(ctx context.Context, q querier, id string) (*types.Message, error) {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get message %s", id)
	}
	return m, nil
}

// MessageFilter mirrors types.GetFilter but is resolved to concrete SQL
// predicates; built by internal/messages before calling ListMessages so
// this package stays free of authorization logic.
type MessageFilter struct {
	ParticipantOr []string // match from = X OR any element of to contains X
	Status        []types.MessageStatus
	Type          []types.MessageType
	Priority      []types.Priority
	SinceHours    float64
	ThreadID      string
	ExcludeStatus []types.MessageStatus
	Limit         int
	Offset        int
}

// ListMessages returns messages matching filter, ordered by priority rank
// then created_at descending (§4.3).
func ListMessages(ctx context.Context, q querier, f MessageFilter) ([]*types.Message, error) {
	var where []string
	var args []any

	if len(f.ParticipantOr) > 0 {
		var ors []string
		for _, p := range f.ParticipantOr {
			ors = append(ors, `(from_id = ? OR to_json LIKE ?)`)
			args = append(args, p, "%\""+p+"\"%")
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}
	if len(f.Status) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Status))+")")
		for _, s := range f.Status {
			args = append(args, string(s))
		}
	}
	if len(f.ExcludeStatus) > 0 {
		where = append(where, "status NOT IN ("+placeholders(len(f.ExcludeStatus))+")")
		for _, s := range f.ExcludeStatus {
			args = append(args, string(s))
		}
	}
	if len(f.Type) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Type))+")")
		for _, t := range f.Type {
			args = append(args, string(t))
		}
	}
	if len(f.Priority) > 0 {
		where = append(where, "priority IN ("+placeholders(len(f.Priority))+")")
		for _, p := range f.Priority {
			args = append(args, string(p))
		}
	}
	if f.SinceHours > 0 {
		cutoff := time.Now().Add(-time.Duration(f.SinceHours * float64(time.Hour)))
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(cutoff))
	}
	if f.ThreadID != "" {
		where = append(where, "thread_id = ?")
		args = append(args, f.ThreadID)
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY CASE priority
		WHEN 'CRITICAL' THEN 0 WHEN 'H' THEN 1 WHEN 'M' THEN 2 WHEN 'L' THEN 3 ELSE 4 END,
		created_at DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("scan message row", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate message rows", rows.Err())
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// UpdateMessageFields applies a sparse set of column updates by id.
// Callers build `sets`/`args` with matching `?` placeholders; used by the
// Message Manager for respond/resolve/close/archive transitions so this
// package doesn't need to know every lifecycle rule.
func UpdateMessageFields(ctx context.Context, q querier, id string, sets string, args ...any) error {
	query := fmt.Sprintf("UPDATE messages SET %s WHERE id = ?", sets)
	args = append(args, id)
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapDBErrorf(err, "update message %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("update message %s: %w", id, ErrNotFound)
	}
	return nil
}

// MessagesInThread returns every message of a thread ordered by
// created_at ascending, used by close_thread, compaction, and archival.
func MessagesInThread(ctx context.Context, q querier, threadID string) ([]*types.Message, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE thread_id = ? ORDER BY created_at ASC`, threadID)
	if err != nil {
		return nil, wrapDBError("list thread messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("scan thread message row", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate thread message rows", rows.Err())
}

// DependencyIDs returns the dependency list of a single message, used by
// the bounded-DFS cycle check (§9 design note) without materializing the
// whole graph.
func DependencyIDs(ctx context.Context, q querier, id string) ([]string, error) {
	var depsJSON string
	err := q.QueryRowContext(ctx, `SELECT dependencies_json FROM messages WHERE id = ?`, id).Scan(&depsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrapDBErrorf(err, "get dependencies of %s", id)
	}
	return unmarshalStrings(depsJSON), nil
}

// ExpiredMessages returns messages past expiry that are not already
// resolved or archived (§3 I5).
func ExpiredMessages(ctx context.Context, q querier, now time.Time) ([]*types.Message, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE expires_at IS NOT NULL AND expires_at < ?
		AND status NOT IN ('resolved', 'archived')
	`, formatTime(now))
	if err != nil {
		return nil, wrapDBError("list expired messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("scan expired message row", err)
		}
		out = append(out, m)
	}
	return out, wrapDBError("iterate expired message rows", rows.Err())
}

// CountActiveMessagesForParticipant counts messages in pending|read|responded
// where the participant is sender or recipient, used by Remove's admin
// hard-delete guard (§4.2).
func CountActiveMessagesForParticipant(ctx context.Context, q querier, participantID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE status IN ('pending', 'read', 'responded')
		AND (from_id = ? OR to_json LIKE ?)
	`, participantID, "%\""+participantID+"\"%").Scan(&n)
	return n, wrapDBError("count active messages", err)
}
