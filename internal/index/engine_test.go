package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcoord/coordhub/internal/messages"
	"github.com/agentcoord/coordhub/internal/participants"
	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *messages.Manager, *participants.Registry) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), messages.New(s, dir), participants.New(s.DB())
}

func TestSearchFTSFindsSubjectWord(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeSync, Subject: "database migration plan", Content: "details",
	})
	require.NoError(t, err)

	hits, err := eng.Search(ctx, SearchInput{Query: "migration", ParticipantOr: []string{"@alice"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Contains(t, hits[0].Message.Subject, "migration")
}

func TestSearchByTagMode(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeSync, Subject: "x", Content: "y", Tags: []string{"release"},
	})
	require.NoError(t, err)

	hits, err := eng.Search(ctx, SearchInput{Tags: []string{"release"}, ParticipantOr: []string{"@alice"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestIndexMessageDerivesSupplementalTags(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	msg, err := mgr.Create(ctx, alice, messages.CreateInput{
		To:       []string{"@bob"},
		Type:     types.TypeEmergency,
		Priority: types.PriorityCritical,
		Subject:  "auth database outage",
		Content:  "the database behind auth is down",
	})
	require.NoError(t, err)

	tags, err := eng.IndexMessage(ctx, msg)
	require.NoError(t, err)
	require.Contains(t, tags, "database")
	require.Contains(t, tags, "auth")
	require.Contains(t, tags, "urgent")
	require.Contains(t, tags, string(types.TypeEmergency))

	refetched, err := mgr.GetByID(ctx, msg.ID, types.DetailIndex)
	require.NoError(t, err)
	require.ElementsMatch(t, tags, refetched.Tags)
}

func TestTagSuggestionsOrderedByUsage(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	_, err = mgr.Create(ctx, alice, messages.CreateInput{To: []string{"@bob"}, Type: types.TypeSync, Subject: "a", Content: "a", Tags: []string{"release"}})
	require.NoError(t, err)
	_, err = mgr.Create(ctx, alice, messages.CreateInput{To: []string{"@bob"}, Type: types.TypeSync, Subject: "b", Content: "b", Tags: []string{"release"}})
	require.NoError(t, err)
	_, err = mgr.Create(ctx, alice, messages.CreateInput{To: []string{"@bob"}, Type: types.TypeSync, Subject: "c", Content: "c", Tags: []string{"rollback"}})
	require.NoError(t, err)

	tags, err := eng.TagSuggestions(ctx, "@alice", "r", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"release", "rollback"}, tags)
}

func TestStatsComputesResponseRateAndMeanTime(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	bob, err := reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	m1, err := mgr.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeQuestion, Subject: "q1", Content: "c1", ResponseRequired: true,
	})
	require.NoError(t, err)
	_, err = mgr.Respond(ctx, bob, m1.ID, messages.ResponseInput{Content: "answer"})
	require.NoError(t, err)
	require.NoError(t, mgr.Resolve(ctx, m1.ID, "@bob", types.ResolutionComplete))

	stats, err := eng.Stats(ctx, "@bob", 30)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ReceivedCount)
	require.Equal(t, 1.0, stats.ResponseRate)
	require.GreaterOrEqual(t, stats.MeanResponseTimeHours, 0.0)
}

func TestRelatedExcludesOriginalAndMatchesKeywords(t *testing.T) {
	eng, mgr, reg := newTestEngine(t)
	ctx := context.Background()
	alice, err := reg.Register(ctx, "@alice", nil, "")
	require.NoError(t, err)
	_, err = reg.Register(ctx, "@bob", nil, "")
	require.NoError(t, err)

	seed, err := mgr.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeSync, Subject: "database migration rollback plan", Content: "x",
	})
	require.NoError(t, err)
	other, err := mgr.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeSync, Subject: "database rollback completed", Content: "x",
	})
	require.NoError(t, err)

	related, err := eng.Related(ctx, seed.ID, []string{"@alice"}, 5)
	require.NoError(t, err)
	var ids []string
	for _, h := range related {
		ids = append(ids, h.Message.ID)
	}
	require.NotContains(t, ids, seed.ID)
	require.Contains(t, ids, other.ID)
}
