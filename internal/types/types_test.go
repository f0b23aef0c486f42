package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidParticipantID(t *testing.T) {
	require.True(t, ValidParticipantID("@alice"))
	require.True(t, ValidParticipantID("@a"))
	require.True(t, ValidParticipantID("@backend-worker_1"))
	require.False(t, ValidParticipantID("alice"))
	require.False(t, ValidParticipantID("@1alice"))
	require.False(t, ValidParticipantID("@"))
	require.False(t, ValidParticipantID("@"+string(make([]byte, 32))))
}

func TestValidateForRegisterRejectsReserved(t *testing.T) {
	err := ValidateForRegister("@system", nil, PriorityMedium)
	require.Error(t, err)

	err = ValidateForRegister("@alice", nil, PriorityMedium)
	require.NoError(t, err)
}

func TestValidateForRegisterRejectsBadPriority(t *testing.T) {
	err := ValidateForRegister("@alice", nil, Priority("URGENT"))
	require.Error(t, err)
}

func TestParticipantValidate(t *testing.T) {
	p := &Participant{ID: "@alice", Status: ParticipantActive, DefaultPriority: PriorityMedium}
	require.NoError(t, p.Validate())

	bad := &Participant{ID: "@alice", Status: "deleted", DefaultPriority: PriorityMedium}
	require.Error(t, bad.Validate())
}

func TestParticipantIsAdmin(t *testing.T) {
	var nilP *Participant
	require.False(t, nilP.IsAdmin())

	p := &Participant{ID: "@alice", Capabilities: []string{"write", "admin"}}
	require.True(t, p.IsAdmin())

	p2 := &Participant{ID: "@bob", Capabilities: []string{"write"}}
	require.False(t, p2.IsAdmin())
}

func TestPriorityRank(t *testing.T) {
	require.True(t, PriorityCritical.Rank() < PriorityHigh.Rank())
	require.True(t, PriorityHigh.Rank() < PriorityMedium.Rank())
	require.True(t, PriorityMedium.Rank() < PriorityLow.Rank())
}

func TestComputeSummaryTruncates(t *testing.T) {
	short := "a short message"
	require.Equal(t, short, ComputeSummary(short))

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	summary := ComputeSummary(string(long))
	require.Len(t, summary, 503)
	require.True(t, summary[500:] == "...")
}

func TestNeedsSidecar(t *testing.T) {
	require.False(t, NeedsSidecar(string(make([]byte, 1000))))
	require.True(t, NeedsSidecar(string(make([]byte, 1001))))
}

func TestMessageValidate(t *testing.T) {
	m := &Message{
		From:     "@alice",
		To:       []string{"@bob"},
		Type:     TypeSync,
		Priority: PriorityMedium,
		Subject:  "status update",
	}
	require.NoError(t, m.Validate())

	m.To = nil
	require.Error(t, m.Validate())

	m.To = []string{"@bob"}
	m.Type = "invalid"
	require.Error(t, m.Validate())
}

func TestMessageValidateAllowsAllRecipient(t *testing.T) {
	m := &Message{
		From:     "@alice",
		To:       []string{AllParticipant},
		Type:     TypeBroadcast,
		Priority: PriorityLow,
	}
	require.NoError(t, m.Validate())
}

func TestMessageValidateRejectsLongSubject(t *testing.T) {
	m := &Message{
		From:     "@alice",
		To:       []string{"@bob"},
		Type:     TypeSync,
		Priority: PriorityMedium,
		Subject:  string(make([]byte, 201)),
	}
	require.Error(t, m.Validate())
}

func TestMessageStatusTerminal(t *testing.T) {
	require.True(t, StatusResolved.Terminal())
	require.True(t, StatusArchived.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusRead.Terminal())
}

func TestDefaultExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := DefaultExpiry(now)
	require.Equal(t, 168*time.Hour, exp.Sub(now))
}

func TestEffectiveLimit(t *testing.T) {
	n, err := EffectiveLimit(0, 50, 200)
	require.NoError(t, err)
	require.Equal(t, 50, n)

	n, err = EffectiveLimit(500, 50, 200)
	require.NoError(t, err)
	require.Equal(t, 200, n)

	_, err = EffectiveLimit(-1, 50, 200)
	require.Error(t, err)
}

func TestGetFilterActiveOnlyDefault(t *testing.T) {
	var f GetFilter
	require.True(t, f.ActiveOnlyOrDefault())

	off := false
	f.ActiveOnly = &off
	require.False(t, f.ActiveOnlyOrDefault())
}
