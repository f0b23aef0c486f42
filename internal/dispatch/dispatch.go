// Package dispatch implements the Tool Dispatcher (C7): resolving the
// configured participant, refreshing last_seen, validating arguments,
// checking authorization, and formatting component results as the
// {content:[{type,text}], isError} contract of §6.1 (§4.6).
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentcoord/coordhub/internal/compaction"
	"github.com/agentcoord/coordhub/internal/engine"
	"github.com/agentcoord/coordhub/internal/participants"
	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

// Kind classifies a handled dispatch error for the labeled text response
// (§7).
type Kind string

const (
	KindValidation Kind = "Validation"
	KindPermission Kind = "Permission"
	KindNotFound   Kind = "NotFound"
	KindConflict   Kind = "Conflict"
	KindStorage    Kind = "Storage"
)

// Error is a classified dispatch error; unclassified errors reaching
// Dispatch are treated as Storage (§7: "unexpected errors are wrapped
// with a generic message").
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

func validationErr(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func permissionErr(format string, args ...any) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

// Dispatcher is the Tool Dispatcher component. One per configured
// participant identity; the identity is fixed at construction the way a
// single engine process speaks for exactly one participant (§6.2
// participant_id).
type Dispatcher struct {
	eng           *engine.Engine
	participantID string
}

// New builds a Dispatcher that acts on behalf of participantID.
func New(eng *engine.Engine, participantID string) *Dispatcher {
	return &Dispatcher{eng: eng, participantID: participantID}
}

// Dispatch resolves the configured participant, refreshes its
// last_seen, routes name to the matching operation, and returns a
// formatted result. A classified Error never escapes as the returned
// error; it is always converted to an isError result (§4.6 step 5, §7).
func (d *Dispatcher) Dispatch(ctx context.Context, name string, arguments json.RawMessage) (*mcp.CallToolResult, error) {
	self, err := d.eng.Participants.Get(ctx, d.participantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errorResult(KindNotFound, fmt.Sprintf("configured participant %s is not registered; call ccp_register_participant first", d.participantID)), nil
		}
		return errorResult(KindStorage, err.Error()), nil
	}
	_ = d.eng.Participants.UpdateLastSeen(ctx, self.ID)

	handler, ok := operations[name]
	if !ok {
		return errorResult(KindValidation, fmt.Sprintf("unknown operation %q", name)), nil
	}

	result, err := handler(d, ctx, self, arguments)
	if err == nil {
		return result, nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return errorResult(classified.Kind, classified.Msg), nil
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorResult(KindNotFound, err.Error()), nil
	case errors.Is(err, store.ErrConflict):
		return errorResult(KindConflict, err.Error()), nil
	case errors.Is(err, store.ErrCycle):
		return errorResult(KindValidation, err.Error()), nil
	case errors.Is(err, participants.ErrPermissionDenied):
		return errorResult(KindPermission, err.Error()), nil
	case errors.Is(err, participants.ErrActiveMessages):
		return errorResult(KindConflict, err.Error()), nil
	case errors.Is(err, compaction.ErrNotAuthorized):
		return errorResult(KindPermission, err.Error()), nil
	default:
		return errorResult(KindStorage, "internal error: "+err.Error()), nil
	}
}

type opHandler func(d *Dispatcher, ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error)

var operations = map[string]opHandler{
	"ccp_send_message":         (*Dispatcher).sendMessage,
	"ccp_get_messages":         (*Dispatcher).getMessages,
	"ccp_respond_message":      (*Dispatcher).respondMessage,
	"ccp_search_messages":      (*Dispatcher).searchMessages,
	"ccp_compact_thread":       (*Dispatcher).compactThread,
	"ccp_archive_resolved":     (*Dispatcher).archiveResolved,
	"ccp_get_stats":            (*Dispatcher).getStats,
	"ccp_register_participant": (*Dispatcher).registerParticipant,
	"ccp_whoami":               (*Dispatcher).whoami,
	"ccp_help":                 (*Dispatcher).help,
	"ccp_setup_guide":          (*Dispatcher).setupGuide,
	"ccp_close_thread":         (*Dispatcher).closeThread,
}

func errorResult(kind Kind, msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("[%s] %s", kind, msg)}},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return validationErr("malformed arguments: %v", err)
	}
	return nil
}
