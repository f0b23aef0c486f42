package participants

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s.DB())
}

func TestRegisterDefaultsAndRejectsReserved(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	p, err := r.Register(ctx, "@alice", []string{"write"}, "")
	require.NoError(t, err)
	require.Equal(t, types.ParticipantActive, p.Status)
	require.Equal(t, types.PriorityMedium, p.DefaultPriority)

	_, err = r.Register(ctx, "@system", nil, "")
	require.Error(t, err)
}

func TestRegisterConflict(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)

	_, err = r.Register(ctx, "@alice", nil, "")
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestUpdateRequiresSelfOrAdmin(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	alice, err := r.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = r.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	_, err = r.Update(ctx, "@bob", alice, func(p *types.Participant) { p.Status = types.ParticipantMaintenance })
	require.ErrorIs(t, err, ErrPermissionDenied)

	admin := &types.Participant{ID: "@admin-user", Capabilities: []string{"admin"}}
	updated, err := r.Update(ctx, "@bob", admin, func(p *types.Participant) { p.Status = types.ParticipantMaintenance })
	require.NoError(t, err)
	require.Equal(t, types.ParticipantMaintenance, updated.Status)
}

func TestDeactivateAndRemove(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	alice, err := r.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, "@alice", alice))
	got, err := r.Get(ctx, "@alice")
	require.NoError(t, err)
	require.Equal(t, types.ParticipantInactive, got.Status)

	nonAdmin := &types.Participant{ID: "@bob"}
	err = r.Remove(ctx, "@alice", nonAdmin)
	require.ErrorIs(t, err, ErrPermissionDenied)

	admin := &types.Participant{ID: "@admin-user", Capabilities: []string{"admin"}}
	require.NoError(t, r.Remove(ctx, "@alice", admin))
	_, err = r.Get(ctx, "@alice")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCleanupStale(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, "@old", nil, "")
	require.NoError(t, err)
	require.NoError(t, r.Deactivate(ctx, "@old", &types.Participant{ID: "@old"}))
	require.NoError(t, store.UpdateParticipantFields(ctx, r.db, "@old", "last_seen = ?", time.Now().Add(-200*24*time.Hour).UTC().Format(time.RFC3339Nano)))

	n, err := r.CleanupStale(ctx, 90)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAuthPredicates(t *testing.T) {
	admin := &types.Participant{ID: "@admin-user", Capabilities: []string{"admin"}}
	require.True(t, IsAdmin(admin))

	plain := &types.Participant{ID: "@alice"}
	require.False(t, IsAdmin(plain))

	require.True(t, CanAccessMessage(admin, "@alice", []string{"@bob"}))
	require.True(t, CanAccessMessage(plain, "@alice", []string{"@bob"}))
	require.False(t, CanAccessMessage(plain, "@bob", []string{"@carol"}))

	active := &types.Participant{ID: "@alice", Status: types.ParticipantActive}
	inactiveRecipient := &types.Participant{ID: "@bob", Status: types.ParticipantInactive}
	require.False(t, CanSend(active, []*types.Participant{inactiveRecipient}))

	activeRecipient := &types.Participant{ID: "@bob", Status: types.ParticipantActive}
	require.True(t, CanSend(active, []*types.Participant{activeRecipient}))
}
