// Package participants implements the Participant Registry (C3):
// registration, lookup, and the authorization predicates every other
// component depends on (§4.2).
package participants

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

// ErrPermissionDenied is returned by Update/Deactivate/Remove when the
// requester fails the §4.2 authorization rule.
var ErrPermissionDenied = fmt.Errorf("permission denied")

// ErrActiveMessages is returned by Remove when the participant still has
// messages in pending|read|responded.
var ErrActiveMessages = fmt.Errorf("participant has active messages")

// Registry is the Participant Registry component, backed directly by the
// store's database handle (registry operations are simple enough not to
// need the directory lock beyond what the store's own WAL discipline
// gives for free; callers that want the documented §5 lock-around-writes
// behavior acquire it before calling Register/Update/etc.).
type Registry struct {
	db *sql.DB
}

func New(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register creates a new participant, defaulting status=active,
// last_seen=now, default_priority=M if unset (§4.2).
func (r *Registry) Register(ctx context.Context, id string, capabilities []string, defaultPriority types.Priority) (*types.Participant, error) {
	if defaultPriority == "" {
		defaultPriority = types.PriorityMedium
	}
	if err := types.ValidateForRegister(id, capabilities, defaultPriority); err != nil {
		return nil, err
	}

	p := &types.Participant{
		ID:              id,
		Capabilities:    capabilities,
		Status:          types.ParticipantActive,
		LastSeen:        time.Now(),
		DefaultPriority: defaultPriority,
		Metadata:        map[string]string{},
	}
	if err := store.InsertParticipant(ctx, r.db, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a participant by id, or store.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*types.Participant, error) {
	return store.GetParticipant(ctx, r.db, id)
}

// List returns participants ordered by id, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status types.ParticipantStatus) ([]*types.Participant, error) {
	return store.ListParticipants(ctx, r.db, status)
}

// UpdateLastSeen refreshes a participant's last_seen to now.
func (r *Registry) UpdateLastSeen(ctx context.Context, id string) error {
	return store.UpdateParticipantFields(ctx, r.db, id, "last_seen = ?", nowString())
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Update merges a partial update into the stored record; requires
// requester == id OR requester is admin (§4.2).
func (r *Registry) Update(ctx context.Context, id string, requester *types.Participant, mutate func(*types.Participant)) (*types.Participant, error) {
	if requester.ID != id && !requester.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	p, err := store.GetParticipant(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	mutate(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := store.UpdateParticipant(ctx, r.db, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate transitions a participant to inactive; same auth rule as
// Update.
func (r *Registry) Deactivate(ctx context.Context, id string, requester *types.Participant) error {
	if requester.ID != id && !requester.IsAdmin() {
		return ErrPermissionDenied
	}
	return store.UpdateParticipantFields(ctx, r.db, id, "status = ?", string(types.ParticipantInactive))
}

// Remove hard-deletes a participant; requires admin AND no active
// messages for that id (§4.2).
func (r *Registry) Remove(ctx context.Context, id string, requester *types.Participant) error {
	if !requester.IsAdmin() {
		return ErrPermissionDenied
	}
	n, err := store.CountActiveMessagesForParticipant(ctx, r.db, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrActiveMessages
	}
	return store.DeleteParticipant(ctx, r.db, id)
}

// CleanupStale deletes inactive participants whose last_seen predates
// daysInactive (default 90, §4.2).
func (r *Registry) CleanupStale(ctx context.Context, daysInactive int) (int, error) {
	if daysInactive <= 0 {
		daysInactive = 90
	}
	cutoff := time.Now().Add(-time.Duration(daysInactive) * 24 * time.Hour).UTC().Format(time.RFC3339Nano)
	stale, err := store.StaleParticipants(ctx, r.db, cutoff)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range stale {
		if err := store.DeleteParticipant(ctx, r.db, p.ID); err != nil {
			continue
		}
		n++
	}
	return n, nil
}
