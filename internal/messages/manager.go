// Package messages implements the Message Manager (C4): message
// lifecycle operations (create, fetch, respond, resolve, close thread,
// archive expired), the sidecar content store, and the dependency cycle
// check, all built around the data directory lock from internal/dirlock
// and the query functions from internal/store.
package messages

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agentcoord/coordhub/internal/dirlock"
	"github.com/agentcoord/coordhub/internal/idgen"
	"github.com/agentcoord/coordhub/internal/participants"
	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

const dependsTagPrefix = "depends:"

// extractDependencyTags splits tags into dependency message ids (from
// entries of the form "depends:<id>") and the remaining free-form tags
// (§3: "dependencies ... populated from input tags"; "tags ... minus
// depends: prefixes").
func extractDependencyTags(tags []string) (deps []string, rest []string) {
	for _, tag := range tags {
		if id, ok := strings.CutPrefix(tag, dependsTagPrefix); ok {
			if id != "" {
				deps = append(deps, id)
			}
			continue
		}
		rest = append(rest, tag)
	}
	return deps, rest
}

const (
	defaultGetLimit = 50
	maxGetLimit     = 500
)

// Manager is the Message Manager component.
type Manager struct {
	st      *store.Store
	dataDir string
}

// New builds a Manager backed by st, with dataDir as the root holding the
// lock file and sidecar content tree.
func New(st *store.Store, dataDir string) *Manager {
	return &Manager{st: st, dataDir: dataDir}
}

// CreateInput is the caller-supplied portion of a new message. Everything
// else — id, thread_id, timestamps, summary, content_ref — is computed by
// Create.
type CreateInput struct {
	To                []string
	Type              types.MessageType
	Priority          types.Priority
	Subject           string
	Content           string
	ResponseRequired  bool
	ExpiresInHours    float64
	Dependencies      []string
	Tags              []string
	SuggestedApproach any
}

// Create validates and stores a new message (§4.3 create_message). The
// sidecar, if content exceeds the threshold, is written before the
// transaction begins; an orphaned sidecar file with no matching row is an
// acceptable failure mode, a row with no backing file is not (§9).
func (m *Manager) Create(ctx context.Context, from *types.Participant, in CreateInput) (*types.Message, error) {
	if from == nil || from.Status != types.ParticipantActive {
		return nil, fmt.Errorf("sender %v is not an active participant", from)
	}

	priority := in.Priority
	if priority == "" {
		priority = from.DefaultPriority
	}
	if priority == "" {
		priority = types.PriorityMedium
	}

	now := time.Now().UTC()
	id, err := idgen.MessageID(string(in.Type), now)
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	threadID := idgen.ThreadID(id)

	var expiresAt time.Time
	if in.ExpiresInHours > 0 {
		expiresAt = now.Add(time.Duration(in.ExpiresInHours * float64(time.Hour)))
	} else {
		expiresAt = types.DefaultExpiry(now)
	}

	deps, tags := extractDependencyTags(in.Tags)
	deps = append(deps, in.Dependencies...)

	msg := &types.Message{
		ID:                id,
		ThreadID:          threadID,
		From:              from.ID,
		To:                in.To,
		Type:              in.Type,
		Priority:          priority,
		Status:            types.StatusPending,
		Subject:           in.Subject,
		Summary:           types.ComputeSummary(in.Content),
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         &expiresAt,
		ResponseRequired:  in.ResponseRequired,
		Dependencies:      deps,
		Tags:              tags,
		SuggestedApproach: in.SuggestedApproach,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	if types.NeedsSidecar(in.Content) {
		ref, err := writeSidecar(m.dataDir, threadID, id, in.Content)
		if err != nil {
			return nil, fmt.Errorf("write sidecar: %w", err)
		}
		msg.ContentRef = ref
	}

	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return nil, fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	err = m.st.WithTx(ctx, func(tx *sql.Tx) error {
		if len(msg.Dependencies) > 0 {
			q := func(ctx context.Context, depID string) ([]string, error) {
				return store.DependencyIDs(ctx, tx, depID)
			}
			if err := checkCycle(ctx, q, msg.ID, msg.Dependencies); err != nil {
				return err
			}
		}
		if err := store.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		threadParticipants := append([]string{msg.From}, msg.To...)
		return store.UpsertConversation(ctx, tx, threadID, msg.Subject, threadParticipants, msg.Tags, now)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Get lists messages matching f for the requesting participant (§4.3
// get_messages). Read operations take no lock (§4.1): they run directly
// against the store's shared handle.
func (m *Manager) Get(ctx context.Context, requester *types.Participant, f types.GetFilter) ([]*types.Message, error) {
	limit, err := types.EffectiveLimit(f.Limit, defaultGetLimit, maxGetLimit)
	if err != nil {
		return nil, err
	}

	sf := store.MessageFilter{
		Type:       f.Type,
		Priority:   f.Priority,
		SinceHours: f.SinceHours,
		ThreadID:   f.ThreadID,
		Limit:      limit,
		Offset:     f.Offset,
	}
	if f.Participant != "" {
		sf.ParticipantOr = []string{f.Participant, types.AllParticipant}
	} else if requester != nil {
		sf.ParticipantOr = []string{requester.ID, types.AllParticipant}
	}
	if len(f.Status) > 0 {
		sf.Status = f.Status
	} else if f.ActiveOnlyOrDefault() {
		sf.ExcludeStatus = terminalStatusList()
	}

	msgs, err := store.ListMessages(ctx, m.st.DB(), sf)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		m.applyDetailLevel(msg, f.DetailLevel)
	}
	return msgs, nil
}

func terminalStatusList() []types.MessageStatus {
	return []types.MessageStatus{types.StatusResolved, types.StatusArchived, types.StatusCancelled}
}

// GetByID returns a single message by id, honoring the same detail_level
// rule as Get (§4.3).
func (m *Manager) GetByID(ctx context.Context, id string, detail types.DetailLevel) (*types.Message, error) {
	msg, err := store.GetMessageByID(ctx, m.st.DB(), id)
	if err != nil {
		return nil, err
	}
	m.applyDetailLevel(msg, detail)
	return msg, nil
}

// applyDetailLevel fills in msg.Content for detail_level=full, falling
// back to the summary if the sidecar is missing or unreadable; index
// strips the summary back out.
func (m *Manager) applyDetailLevel(msg *types.Message, detail types.DetailLevel) {
	switch detail {
	case types.DetailFull:
		if msg.ContentRef != "" {
			if content, ok := readSidecar(m.dataDir, msg.ContentRef); ok {
				msg.Content = content
				return
			}
			msg.Content = msg.Summary
			return
		}
		msg.Content = msg.Summary
	case types.DetailIndex:
		msg.Summary = ""
	default:
		// summary (or unset, which defaults to summary per §4.3): leave as-is.
	}
}

// MarkRead transitions a message from pending to read (§4.3 state
// machine); a message in any other status is left unchanged. Not invoked
// automatically by Get/GetByID, which are read-only per §4.1 and must not
// have side effects.
func (m *Manager) MarkRead(ctx context.Context, id string) error {
	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	now := time.Now().UTC()
	return m.st.WithTx(ctx, func(tx *sql.Tx) error {
		msg, err := store.GetMessageByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if msg.Status != types.StatusPending {
			return nil
		}
		return store.UpdateMessageFields(ctx, tx, id, "status = ?, updated_at = ?", string(types.StatusRead), formatTimeArg(now))
	})
}

// ResponseInput is the caller-supplied portion of a response (§4.3
// respond_message).
type ResponseInput struct {
	Content           string
	ResolutionStatus  types.ResolutionStatus
	SuggestedApproach any
}

// Respond creates a reply message addressed back to the original sender,
// sharing the original's thread_id (§3 I7, resolved per end-to-end
// scenario 4: a response is addressed by the original message's thread,
// not a freshly derived one from the response's own id), and marks the
// original responded.
func (m *Manager) Respond(ctx context.Context, from *types.Participant, originalID string, in ResponseInput) (*types.Message, error) {
	original, err := store.GetMessageByID(ctx, m.st.DB(), originalID)
	if err != nil {
		return nil, err
	}
	if original.Status.Terminal() {
		return nil, fmt.Errorf("message %s is already %s and cannot be responded to", originalID, original.Status)
	}
	if !containsID(original.To, from.ID) {
		return nil, participants.ErrPermissionDenied
	}

	now := time.Now().UTC()
	id, err := idgen.MessageID(string(original.Type), now)
	if err != nil {
		return nil, fmt.Errorf("generate response id: %w", err)
	}

	resp := &types.Message{
		ID:                id,
		ThreadID:          original.ThreadID,
		From:              from.ID,
		To:                []string{original.From},
		Type:              original.Type,
		Priority:          original.Priority,
		Status:            types.StatusPending,
		Subject:           "Re: " + original.Subject,
		Summary:           types.ComputeSummary(in.Content),
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         timePtr(types.DefaultExpiry(now)),
		ResponseRequired:  false,
		Tags:              []string{"response_to:" + originalID},
		SuggestedApproach: in.SuggestedApproach,
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	if types.NeedsSidecar(in.Content) {
		ref, err := writeSidecar(m.dataDir, resp.ThreadID, id, in.Content)
		if err != nil {
			return nil, fmt.Errorf("write sidecar: %w", err)
		}
		resp.ContentRef = ref
	}

	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return nil, fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	err = m.st.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertMessage(ctx, tx, resp); err != nil {
			return err
		}
		if in.ResolutionStatus != "" {
			if !in.ResolutionStatus.Valid() {
				return fmt.Errorf("invalid resolution_status %q", in.ResolutionStatus)
			}
			if err := store.UpdateMessageFields(ctx, tx, originalID,
				"status = ?, updated_at = ?, resolution_status = ?, resolved_at = ?, resolved_by = ?",
				string(types.StatusResponded), formatTimeArg(now), string(in.ResolutionStatus), formatTimeArg(now), from.ID,
			); err != nil {
				return err
			}
		} else if err := store.UpdateMessageFields(ctx, tx, originalID, "status = ?, updated_at = ?", string(types.StatusResponded), formatTimeArg(now)); err != nil {
			return err
		}
		return store.UpsertConversation(ctx, tx, resp.ThreadID, original.Subject, []string{from.ID, original.From}, nil, now)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Resolve marks a message resolved, recording who resolved it, when, and
// under what resolution_status (§4.3 resolve semantics, §3 I4: terminal
// once set).
func (m *Manager) Resolve(ctx context.Context, id string, resolvedBy string, status types.ResolutionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid resolution_status %q", status)
	}
	now := time.Now().UTC()

	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	return m.st.WithTx(ctx, func(tx *sql.Tx) error {
		msg, err := store.GetMessageByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if msg.Status.Terminal() {
			return fmt.Errorf("message %s is already %s", id, msg.Status)
		}
		if msg.From != resolvedBy && !containsID(msg.To, resolvedBy) {
			return participants.ErrPermissionDenied
		}
		return store.UpdateMessageFields(ctx, tx,
			id,
			"status = ?, updated_at = ?, resolution_status = ?, resolved_at = ?, resolved_by = ?",
			string(types.StatusResolved), formatTimeArg(now), string(status), formatTimeArg(now), resolvedBy,
		)
	})
}

// CloseThreadInput is the caller-supplied portion of a close_thread call
// (§4.3 close_thread).
type CloseThreadInput struct {
	MessageOrThreadID string
	ResolutionStatus  types.ResolutionStatus
	FinalSummary      string
}

// CloseThread resolves every non-terminal message in the thread owning
// in.MessageOrThreadID — accepting either a message id (its thread is
// looked up) or a thread id directly (§4.3 close_thread, per end-to-end
// scenario 4 where a response id is passed in) — marks the conversation
// resolved, and, if a final summary is supplied, emits a broadcast
// update/L message announcing the close. Returns the number of messages
// transitioned to resolved (zero on a second call against an already-
// closed thread, §8 idempotence law).
func (m *Manager) CloseThread(ctx context.Context, closer string, in CloseThreadInput) (int, error) {
	if !in.ResolutionStatus.Valid() || in.ResolutionStatus == "" {
		return 0, fmt.Errorf("invalid resolution_status %q", in.ResolutionStatus)
	}
	now := time.Now().UTC()

	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return 0, fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	var transitioned int
	err = m.st.WithTx(ctx, func(tx *sql.Tx) error {
		threadID := in.MessageOrThreadID
		if asMsg, err := store.GetMessageByID(ctx, tx, in.MessageOrThreadID); err == nil {
			threadID = asMsg.ThreadID
		}

		msgs, err := store.MessagesInThread(ctx, tx, threadID)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("thread %s not found", threadID)
		}

		member := false
		for _, msg := range msgs {
			if msg.From == closer || containsID(msg.To, closer) {
				member = true
				break
			}
		}
		if !member {
			return participants.ErrPermissionDenied
		}

		for _, msg := range msgs {
			if msg.Status.Terminal() {
				continue
			}
			if err := store.UpdateMessageFields(ctx, tx,
				msg.ID,
				"status = ?, updated_at = ?, resolution_status = ?, resolved_at = ?, resolved_by = ?",
				string(types.StatusResolved), formatTimeArg(now), string(in.ResolutionStatus), formatTimeArg(now), closer,
			); err != nil {
				return err
			}
			transitioned++
		}

		if in.FinalSummary != "" {
			id, err := idgen.MessageID(string(types.TypeUpdate), now)
			if err != nil {
				return fmt.Errorf("generate close summary message id: %w", err)
			}
			final := &types.Message{
				ID:               id,
				ThreadID:         idgen.ThreadID(id),
				From:             closer,
				To:               []string{types.AllParticipant},
				Type:             types.TypeUpdate,
				Priority:         types.PriorityLow,
				Status:           types.StatusPending,
				Subject:          "Thread Closed: " + threadID,
				Summary:          types.ComputeSummary(in.FinalSummary),
				CreatedAt:        now,
				UpdatedAt:        now,
				ExpiresAt:        timePtr(types.DefaultExpiry(now)),
				ResponseRequired: false,
				Tags:             []string{"thread-closed", "resolution-" + string(in.ResolutionStatus)},
			}
			if types.NeedsSidecar(in.FinalSummary) {
				ref, err := writeSidecar(m.dataDir, final.ThreadID, final.ID, in.FinalSummary)
				if err != nil {
					return fmt.Errorf("write close summary sidecar: %w", err)
				}
				final.ContentRef = ref
			}
			if err := final.Validate(); err != nil {
				return err
			}
			if err := store.InsertMessage(ctx, tx, final); err != nil {
				return err
			}
		}

		return store.SetConversationStatus(ctx, tx, threadID, types.ConversationResolved, in.FinalSummary, now)
	})
	if err != nil {
		return 0, err
	}
	return transitioned, nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// ArchiveExpired transitions every expired message that is not already
// resolved or archived to archived (§3 I5), moving any sidecar content to the dated archive
// directory after the row update commits (§9 design note: file moves
// happen outside the transaction).
func (m *Manager) ArchiveExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	lock, err := dirlock.Acquire(ctx, m.dataDir)
	if err != nil {
		return 0, fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	var archived []*types.Message
	err = m.st.WithTx(ctx, func(tx *sql.Tx) error {
		expired, err := store.ExpiredMessages(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, msg := range expired {
			if err := store.UpdateMessageFields(ctx, tx, msg.ID, "status = ?, updated_at = ?", string(types.StatusArchived), formatTimeArg(now)); err != nil {
				return err
			}
		}
		archived = expired
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, msg := range archived {
		if msg.ContentRef == "" {
			continue
		}
		newRef, err := archiveSidecar(m.dataDir, msg.ContentRef, now)
		if err != nil {
			// A file that failed to move leaves a dangling content_ref; the row
			// is still correctly archived, and readSidecar's ok=false fallback
			// keeps reads from failing outright.
			continue
		}
		_ = store.UpdateMessageFields(ctx, m.st.DB(), msg.ID, "content_ref = ?", newRef)
	}
	return len(archived), nil
}

func timePtr(t time.Time) *time.Time { return &t }

func formatTimeArg(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
