package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcoord/coordhub/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertTestParticipant(t *testing.T, s *Store, id string) {
	t.Helper()
	err := InsertParticipant(context.Background(), s.DB(), &types.Participant{
		ID:              id,
		Status:          types.ParticipantActive,
		LastSeen:        time.Now(),
		DefaultPriority: types.PriorityMedium,
		Metadata:        map[string]string{},
	})
	require.NoError(t, err)
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DB().Exec(`SELECT COUNT(*) FROM messages`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`SELECT COUNT(*) FROM conversations`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`SELECT COUNT(*) FROM participants`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`SELECT COUNT(*) FROM messages_fts`)
	require.NoError(t, err)
}

func TestInsertAndGetParticipant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")

	p, err := GetParticipant(ctx, s.DB(), "@alice")
	require.NoError(t, err)
	require.Equal(t, types.ParticipantActive, p.Status)

	_, err = GetParticipant(ctx, s.DB(), "@nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInsertParticipantConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")

	err := InsertParticipant(ctx, s.DB(), &types.Participant{
		ID: "@alice", Status: types.ParticipantActive, LastSeen: time.Now(), DefaultPriority: types.PriorityMedium,
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestInsertAndGetMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")
	insertTestParticipant(t, s, "@bob")

	now := time.Now()
	m := &types.Message{
		ID: "CONTRACT-abc-XYZ", ThreadID: "CONTRACT-abc-XYZ-thread",
		From: "@alice", To: []string{"@bob"},
		Type: types.TypeContract, Priority: types.PriorityHigh, Status: types.StatusPending,
		Subject: "API change", Summary: "Please update the login endpoint",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, InsertMessage(ctx, s.DB(), m))

	got, err := GetMessageByID(ctx, s.DB(), m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Subject, got.Subject)
	require.Equal(t, []string{"@bob"}, got.To)
	require.Equal(t, types.StatusPending, got.Status)
}

func TestListMessagesFiltersByParticipantAndStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")
	insertTestParticipant(t, s, "@bob")
	insertTestParticipant(t, s, "@carol")

	now := time.Now()
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "SYNC-1-AAA", ThreadID: "SYNC-1-AAA-thread", From: "@alice", To: []string{"@bob"},
		Type: types.TypeSync, Priority: types.PriorityMedium, Status: types.StatusPending,
		Subject: "s1", Summary: "s1", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "SYNC-2-BBB", ThreadID: "SYNC-2-BBB-thread", From: "@alice", To: []string{"@carol"},
		Type: types.TypeSync, Priority: types.PriorityMedium, Status: types.StatusResolved,
		Subject: "s2", Summary: "s2", CreatedAt: now, UpdatedAt: now,
	}))

	rows, err := ListMessages(ctx, s.DB(), MessageFilter{ParticipantOr: []string{"@bob"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "SYNC-1-AAA", rows[0].ID)

	rows, err = ListMessages(ctx, s.DB(), MessageFilter{
		ParticipantOr: []string{"@alice"},
		ExcludeStatus: []types.MessageStatus{types.StatusResolved, types.StatusArchived, types.StatusCancelled},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "SYNC-1-AAA", rows[0].ID)
}

func TestUpdateMessageFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")
	insertTestParticipant(t, s, "@bob")

	now := time.Now()
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "Q-1-AAA", ThreadID: "Q-1-AAA-thread", From: "@alice", To: []string{"@bob"},
		Type: types.TypeQuestion, Priority: types.PriorityMedium, Status: types.StatusPending,
		Subject: "q1", Summary: "q1", CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, UpdateMessageFields(ctx, s.DB(), "Q-1-AAA", "status = ?, updated_at = ?", string(types.StatusRead), formatTime(now)))
	got, err := GetMessageByID(ctx, s.DB(), "Q-1-AAA")
	require.NoError(t, err)
	require.Equal(t, types.StatusRead, got.Status)

	err = UpdateMessageFields(ctx, s.DB(), "NO-SUCH-ID", "status = ?", "read")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConversationUpsertTracksParticipantsAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, UpsertConversation(ctx, s.DB(), "T-thread", "topic", []string{"@alice"}, []string{"x"}, now))
	require.NoError(t, UpsertConversation(ctx, s.DB(), "T-thread", "topic", []string{"@bob"}, []string{"y"}, now))

	c, err := GetConversation(ctx, s.DB(), "T-thread")
	require.NoError(t, err)
	require.Equal(t, 2, c.MessageCount)
	require.ElementsMatch(t, []string{"@alice", "@bob"}, c.Participants)
	require.ElementsMatch(t, []string{"x", "y"}, c.Tags)
}

func TestFTSSearchFindsSubjectMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")
	insertTestParticipant(t, s, "@bob")

	now := time.Now()
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "ARCH-1-AAA", ThreadID: "ARCH-1-AAA-thread", From: "@alice", To: []string{"@bob"},
		Type: types.TypeArch, Priority: types.PriorityMedium, Status: types.StatusPending,
		Subject: "database migration plan", Summary: "plan to migrate the database schema",
		CreatedAt: now, UpdatedAt: now,
	}))

	hits, err := SearchFTS(ctx, s.DB(), `"database"*`, nil, nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "ARCH-1-AAA", hits[0].Message.ID)
	require.GreaterOrEqual(t, hits[0].Score, 0.0)
	require.LessOrEqual(t, hits[0].Score, 1.0)
}

func TestExpiredMessagesExcludesResolved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")
	insertTestParticipant(t, s, "@bob")

	past := time.Now().Add(-time.Hour)
	now := time.Now()
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "Q-2-AAA", ThreadID: "Q-2-AAA-thread", From: "@alice", To: []string{"@bob"},
		Type: types.TypeQuestion, Priority: types.PriorityMedium, Status: types.StatusPending,
		Subject: "q", Summary: "q", CreatedAt: now, UpdatedAt: now, ExpiresAt: &past,
	}))
	require.NoError(t, InsertMessage(ctx, s.DB(), &types.Message{
		ID: "Q-3-BBB", ThreadID: "Q-3-BBB-thread", From: "@alice", To: []string{"@bob"},
		Type: types.TypeQuestion, Priority: types.PriorityMedium, Status: types.StatusResolved,
		Subject: "q", Summary: "q", CreatedAt: now, UpdatedAt: now, ExpiresAt: &past,
	}))

	expired, err := ExpiredMessages(ctx, s.DB(), time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "Q-2-AAA", expired[0].ID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertTestParticipant(t, s, "@alice")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertParticipant(ctx, tx, &types.Participant{
			ID: "@bob", Status: types.ParticipantActive, LastSeen: time.Now(), DefaultPriority: types.PriorityMedium,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = GetParticipant(ctx, s.DB(), "@bob")
	require.ErrorIs(t, err, ErrNotFound)
}
