package dispatch

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentcoord/coordhub/internal/config"
	"github.com/agentcoord/coordhub/internal/engine"
	"github.com/agentcoord/coordhub/internal/messages"
	"github.com/agentcoord/coordhub/internal/types"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataDirectory = filepath.Join(dir, ".coordination")

	eng, err := engine.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	_, err = eng.Participants.Register(context.Background(), "@alice", []string{"admin"}, "")
	require.NoError(t, err)
	_, err = eng.Participants.Register(context.Background(), "@bob", nil, "")
	require.NoError(t, err)

	return New(eng, "@alice"), eng
}

func TestWhoamiReportsConfiguredParticipant(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result, err := d.Dispatch(context.Background(), "ccp_whoami", nil)
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestSendThenGetMessagesRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	sendArgs, err := json.Marshal(map[string]any{
		"to": []string{"@bob"}, "type": "contract", "priority": "H",
		"subject": "API change", "content": "Please update the login endpoint",
	})
	require.NoError(t, err)

	sendResult, err := d.Dispatch(ctx, "ccp_send_message", sendArgs)
	require.NoError(t, err)
	require.False(t, sendResult.IsError)

	bob := New(d.eng, "@bob")
	getArgs, err := json.Marshal(map[string]any{})
	require.NoError(t, err)
	getResult, err := bob.Dispatch(ctx, "ccp_get_messages", getArgs)
	require.NoError(t, err)
	require.False(t, getResult.IsError)
}

func TestRegisterParticipantRequiresAdmin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	bob := New(d.eng, "@bob")

	args, err := json.Marshal(map[string]any{"participant_id": "@carol"})
	require.NoError(t, err)

	result, err := bob.Dispatch(context.Background(), "ccp_register_participant", args)
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestUnknownOperationReturnsValidationError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	result, err := d.Dispatch(context.Background(), "ccp_nonexistent", nil)
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestCloseThreadViaResponseID(t *testing.T) {
	d, eng := newTestDispatcher(t)
	ctx := context.Background()

	alice, err := eng.Participants.Get(ctx, "@alice")
	require.NoError(t, err)
	original, err := eng.Messages.Create(ctx, alice, messages.CreateInput{
		To: []string{"@bob"}, Type: types.TypeQuestion, Priority: types.PriorityHigh,
		Subject: "should we ship", Content: "thoughts?",
	})
	require.NoError(t, err)

	bob, err := eng.Participants.Get(ctx, "@bob")
	require.NoError(t, err)
	resp, err := eng.Messages.Respond(ctx, bob, original.ID, messages.ResponseInput{Content: "yes"})
	require.NoError(t, err)

	bobDispatcher := New(eng, "@bob")
	closeArgs, err := json.Marshal(map[string]any{
		"thread_id": resp.ID, "resolution_status": "complete", "final_summary": "shipped it",
	})
	require.NoError(t, err)
	closeResult, err := bobDispatcher.Dispatch(ctx, "ccp_close_thread", closeArgs)
	require.NoError(t, err)
	require.False(t, closeResult.IsError)

	gotOriginal, err := eng.Messages.GetByID(ctx, original.ID, types.DetailIndex)
	require.NoError(t, err)
	require.Equal(t, types.StatusResolved, gotOriginal.Status)

	// Closing the same thread again transitions nothing further.
	closeResult2, err := bobDispatcher.Dispatch(ctx, "ccp_close_thread", closeArgs)
	require.NoError(t, err)
	require.False(t, closeResult2.IsError)
}

func TestHelpAndSetupGuideReturnText(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	for _, op := range []string{"ccp_help", "ccp_setup_guide"} {
		result, err := d.Dispatch(ctx, op, nil)
		require.NoError(t, err)
		require.False(t, result.IsError)
	}
}
