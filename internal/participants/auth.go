package participants

import "github.com/agentcoord/coordhub/internal/types"

// IsAdmin reports whether p carries administrative capabilities (§4.2).
func IsAdmin(p *types.Participant) bool {
	return p.IsAdmin()
}

// CanAccessMessage reports whether p may see a message with the given
// from/to (§4.2): admins, the sender, or any recipient.
func CanAccessMessage(p *types.Participant, from string, to []string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin() {
		return true
	}
	if p.ID == from {
		return true
	}
	for _, t := range to {
		if t == p.ID || t == types.AllParticipant {
			return true
		}
	}
	return false
}

// CanSend reports whether from may send to every element of to: from
// must be active, and every recipient must be registered and not
// inactive (§4.2). Lookup is supplied by the caller to keep this
// predicate store-agnostic and trivially unit-testable.
func CanSend(from *types.Participant, to []*types.Participant) bool {
	if from == nil || from.Status != types.ParticipantActive {
		return false
	}
	if len(to) == 0 {
		return false
	}
	for _, t := range to {
		if t == nil || t.Status == types.ParticipantInactive {
			return false
		}
	}
	return true
}
