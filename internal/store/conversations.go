package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcoord/coordhub/internal/types"
)

const conversationColumns = `
	thread_id, participants_json, topic, tags_json, created_at, last_activity,
	status, resolution_summary, message_count
`

func scanConversation(row interface{ Scan(dest ...any) error }) (*types.Conversation, error) {
	var (
		c            types.Conversation
		partsJSON    string
		tagsJSON     string
		createdAt    string
		lastActivity string
		status       string
	)
	if err := row.Scan(&c.ThreadID, &partsJSON, &c.Topic, &tagsJSON, &createdAt, &lastActivity, &status, &c.ResolutionSummary, &c.MessageCount); err != nil {
		return nil, err
	}
	c.Participants = unmarshalStrings(partsJSON)
	c.Tags = unmarshalStrings(tagsJSON)
	c.Status = types.ConversationStatus(status)
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.LastActivity, err = parseTime(lastActivity); err != nil {
		return nil, fmt.Errorf("parse last_activity: %w", err)
	}
	return &c, nil
}

// UpsertConversation creates the conversation row for a thread's first
// message, or touches last_activity/message_count/participants for
// subsequent ones. Called once per message with every participant that
// message touches (sender plus recipients), so message_count tracks
// messages rather than participant mentions. Resolves the §9 open
// question that the source never maintained this row: Create and Respond
// call it for each message they insert. Status updates and the messages
// inserted by CloseThread and by compaction do not update the row.
func UpsertConversation(ctx context.Context, q querier, threadID, topic string, participants []string, tags []string, at time.Time) error {
	existing, err := GetConversation(ctx, q, threadID)
	if err != nil && !isNotFound(err) {
		return err
	}
	if existing == nil {
		_, err := q.ExecContext(ctx, `
			INSERT INTO conversations (thread_id, participants_json, topic, tags_json, created_at, last_activity, status, resolution_summary, message_count)
			VALUES (?, ?, ?, ?, ?, ?, 'active', '', 1)
		`, threadID, marshalStrings(participants), topic, marshalStrings(tags), formatTime(at), formatTime(at))
		return wrapDBErrorf(err, "create conversation %s", threadID)
	}

	parts := unionStrings(existing.Participants, participants)
	allTags := unionStrings(existing.Tags, tags)
	_, err = q.ExecContext(ctx, `
		UPDATE conversations
		SET participants_json = ?, tags_json = ?, last_activity = ?, message_count = message_count + 1
		WHERE thread_id = ?
	`, marshalStrings(parts), marshalStrings(allTags), formatTime(at), threadID)
	return wrapDBErrorf(err, "touch conversation %s", threadID)
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// GetConversation returns a conversation by thread id, or ErrNotFound.
func GetConversation(ctx context.Context, q querier, threadID string) (*types.Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE thread_id = ?`, threadID)
	c, err := scanConversation(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get conversation %s", threadID)
	}
	return c, nil
}

// SetConversationStatus transitions a conversation's status, optionally
// updating its resolution_summary (used by close_thread and compaction's
// archive strategy).
func SetConversationStatus(ctx context.Context, q querier, threadID string, status types.ConversationStatus, resolutionSummary string, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE conversations SET status = ?, resolution_summary = ?, last_activity = ? WHERE thread_id = ?
	`, string(status), resolutionSummary, formatTime(at), threadID)
	return wrapDBErrorf(err, "set conversation status %s", threadID)
}

// ResolvedConversationsOlderThan returns conversations with status
// resolved whose last_activity predates the cutoff (auto_compact, §4.5).
func ResolvedConversationsOlderThan(ctx context.Context, q querier, cutoff time.Time) ([]*types.Conversation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE status = 'resolved' AND last_activity < ?
	`, formatTime(cutoff))
	if err != nil {
		return nil, wrapDBError("list resolved conversations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, wrapDBError("scan conversation row", err)
		}
		out = append(out, c)
	}
	return out, wrapDBError("iterate conversation rows", rows.Err())
}
