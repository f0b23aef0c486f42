// Package types defines the core data model of the coordination engine:
// participants, messages, and conversation threads (§3), plus the
// validation rules every component enforces before a row reaches storage.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ParticipantStatus is the lifecycle state of a registered participant.
type ParticipantStatus string

const (
	ParticipantActive      ParticipantStatus = "active"
	ParticipantInactive    ParticipantStatus = "inactive"
	ParticipantMaintenance ParticipantStatus = "maintenance"
)

// Priority is the shared priority scale used by messages and participant
// defaults, ordered CRITICAL < H < M < L (most urgent first).
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "H"
	PriorityMedium   Priority = "M"
	PriorityLow      Priority = "L"
)

// Rank returns the sort rank of a priority, lower is more urgent. Unknown
// priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// MessageType is the closed set of message kinds a participant may send.
type MessageType string

const (
	TypeArch      MessageType = "arch"
	TypeContract  MessageType = "contract"
	TypeSync      MessageType = "sync"
	TypeUpdate    MessageType = "update"
	TypeQuestion  MessageType = "q"
	TypeEmergency MessageType = "emergency"
	TypeBroadcast MessageType = "broadcast"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeArch, TypeContract, TypeSync, TypeUpdate, TypeQuestion, TypeEmergency, TypeBroadcast:
		return true
	}
	return false
}

// MessageStatus is the message lifecycle state (§4.3 state machine).
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusRead      MessageStatus = "read"
	StatusResponded MessageStatus = "responded"
	StatusResolved  MessageStatus = "resolved"
	StatusArchived  MessageStatus = "archived"
	StatusCancelled MessageStatus = "cancelled"
)

// Terminal reports whether a message in this status is no longer mutated by
// ordinary lifecycle operations (§3 I4).
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusResolved, StatusArchived, StatusCancelled:
		return true
	}
	return false
}

// ResolutionStatus records how a resolved message was closed out.
type ResolutionStatus string

const (
	ResolutionPartial          ResolutionStatus = "partial"
	ResolutionComplete         ResolutionStatus = "complete"
	ResolutionRequiresFollowup ResolutionStatus = "requires_followup"
	ResolutionBlocked          ResolutionStatus = "blocked"
)

func (r ResolutionStatus) Valid() bool {
	switch r {
	case ResolutionPartial, ResolutionComplete, ResolutionRequiresFollowup, ResolutionBlocked, "":
		return true
	}
	return false
}

// ConversationStatus is the lifecycle state of a thread.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationArchived ConversationStatus = "archived"
)

// DetailLevel controls how much of a message Get/GetByID returns (§4.3).
type DetailLevel string

const (
	DetailIndex   DetailLevel = "index"
	DetailSummary DetailLevel = "summary"
	DetailFull    DetailLevel = "full"
)

func (d DetailLevel) Valid() bool {
	switch d {
	case DetailIndex, DetailSummary, DetailFull, "":
		return true
	}
	return false
}

// participantIDPattern matches "@" followed by a letter then up to 30
// letters/digits/underscore/hyphen (§3).
var participantIDPattern = regexp.MustCompile(`^@[A-Za-z][A-Za-z0-9_-]{0,30}$`)

// ReservedParticipantIDs may never be registered by a user (§3); @system is
// used internally as the actor for auto-compaction.
var ReservedParticipantIDs = map[string]bool{
	"@system":    true,
	"@admin":     true,
	"@root":      true,
	"@null":      true,
	"@undefined": true,
}

// AllParticipant is the pseudo-recipient used by close_thread's final
// summary broadcast (§4.3, §9 open question). It has the participant id
// shape (ValidParticipantID accepts it) but is special-cased wherever it is
// a legal recipient.
const AllParticipant = "@all"

// ReservedSystemParticipant is the actor id attributed to synthetic
// messages and automated operations (compaction summaries, auto_compact)
// that have no human or agent sender.
const ReservedSystemParticipant = "@system"

// ValidParticipantID reports whether id has the participant id shape,
// independent of whether it is reserved or registered.
func ValidParticipantID(id string) bool {
	return participantIDPattern.MatchString(id)
}

// Participant is a named identity that sends and receives messages (§3).
type Participant struct {
	ID              string            `json:"id"`
	Capabilities    []string          `json:"capabilities"`
	Status          ParticipantStatus `json:"status"`
	LastSeen        time.Time         `json:"last_seen"`
	DefaultPriority Priority          `json:"default_priority"`
	Metadata        map[string]string `json:"preferences"`
}

// IsAdmin reports whether the participant carries administrative
// capabilities (§4.2).
func (p *Participant) IsAdmin() bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == "admin" || c == "system" {
			return true
		}
	}
	return false
}

// ValidateForRegister checks the shape of a participant about to be
// registered, before status/last_seen/default_priority defaults are filled
// in by the registry.
func ValidateForRegister(id string, capabilities []string, defaultPriority Priority) error {
	if !ValidParticipantID(id) {
		return fmt.Errorf("participant id %q does not match required pattern @<letter><up to 30 letters/digits/_/->", id)
	}
	if ReservedParticipantIDs[strings.ToLower(id)] {
		return fmt.Errorf("participant id %q is reserved", id)
	}
	if defaultPriority != "" && !defaultPriority.Valid() {
		return fmt.Errorf("invalid default_priority %q", defaultPriority)
	}
	return nil
}

// Validate checks a fully-populated participant record.
func (p *Participant) Validate() error {
	if !ValidParticipantID(p.ID) {
		return fmt.Errorf("participant id %q does not match required pattern", p.ID)
	}
	switch p.Status {
	case ParticipantActive, ParticipantInactive, ParticipantMaintenance:
	default:
		return fmt.Errorf("invalid status %q", p.Status)
	}
	if !p.DefaultPriority.Valid() {
		return fmt.Errorf("invalid default_priority %q", p.DefaultPriority)
	}
	return nil
}

// Message is a single addressed, prioritized, threaded unit of
// communication (§3).
type Message struct {
	ID                string           `json:"id"`
	ThreadID          string           `json:"thread_id"`
	From              string           `json:"from"`
	To                []string         `json:"to"`
	Type              MessageType      `json:"type"`
	Priority          Priority         `json:"priority"`
	Status            MessageStatus    `json:"status"`
	Subject           string           `json:"subject"`
	Summary           string           `json:"summary"`
	ContentRef        string           `json:"content_ref,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	ExpiresAt         *time.Time       `json:"expires_at,omitempty"`
	ResponseRequired  bool             `json:"response_required"`
	Dependencies      []string         `json:"dependencies,omitempty"`
	Tags              []string         `json:"tags,omitempty"`
	SuggestedApproach any              `json:"suggested_approach,omitempty"`
	ResolutionStatus  ResolutionStatus `json:"resolution_status,omitempty"`
	ResolvedAt        *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy        string           `json:"resolved_by,omitempty"`

	// Content is populated only at DetailFull and is never persisted
	// verbatim in the messages table; it lives either inline (when no
	// sidecar exists) or in the sidecar file named by ContentRef.
	Content string `json:"content,omitempty"`
}

const (
	maxSubjectLen      = 200
	summaryInlineLimit = 500
	summaryHardLimit   = 503
	sidecarThreshold   = 1000
	defaultExpiryHours = 168
)

// ComputeSummary implements §3 I6/I3: verbatim if short enough, otherwise a
// 500-char prefix with an ellipsis.
func ComputeSummary(content string) string {
	if len(content) <= summaryInlineLimit {
		return content
	}
	return content[:summaryInlineLimit] + "..."
}

// NeedsSidecar reports whether raw content must be split into a sidecar
// file rather than stored inline (§3: content_ref iff raw length > 1000).
func NeedsSidecar(content string) bool {
	return len(content) > sidecarThreshold
}

// Validate checks the structural invariants of a message that do not
// require a store lookup (existence of participants, cycle-freedom, etc.
// are enforced by the Message Manager).
func (m *Message) Validate() error {
	if !ValidParticipantID(m.From) {
		return fmt.Errorf("invalid from participant %q", m.From)
	}
	if len(m.To) == 0 {
		return fmt.Errorf("to must be non-empty")
	}
	for _, t := range m.To {
		if t != AllParticipant && !ValidParticipantID(t) {
			return fmt.Errorf("invalid to participant %q", t)
		}
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid message type %q", m.Type)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	if len(m.Subject) > maxSubjectLen {
		return fmt.Errorf("subject must be %d characters or less", maxSubjectLen)
	}
	if len(m.Summary) > summaryHardLimit {
		return fmt.Errorf("summary must be %d characters or less", summaryHardLimit)
	}
	if !m.ResolutionStatus.Valid() {
		return fmt.Errorf("invalid resolution_status %q", m.ResolutionStatus)
	}
	return nil
}

// DefaultExpiry returns the default expiry horizon used when the caller
// does not specify expires_in_hours (§3).
func DefaultExpiry(from time.Time) time.Time {
	return from.Add(defaultExpiryHours * time.Hour)
}

// Conversation is the aggregate view of all messages sharing a thread id (§3).
type Conversation struct {
	ThreadID          string             `json:"thread_id"`
	Participants      []string           `json:"participants"`
	Topic             string             `json:"topic"`
	Tags              []string           `json:"tags"`
	CreatedAt         time.Time          `json:"created_at"`
	LastActivity      time.Time          `json:"last_activity"`
	Status            ConversationStatus `json:"status"`
	ResolutionSummary string             `json:"resolution_summary,omitempty"`
	MessageCount      int                `json:"message_count"`
}

// GetFilter composes the conjunctive filter accepted by Get (§4.3).
type GetFilter struct {
	Participant string
	Status      []MessageStatus
	Type        []MessageType
	Priority    []Priority
	SinceHours  float64
	ThreadID    string
	ActiveOnly  *bool // nil means "use default (true)"
	Limit       int
	Offset      int
	DetailLevel DetailLevel
}

// ActiveOnlyOrDefault returns the effective active_only value (§4.3 default
// true).
func (f GetFilter) ActiveOnlyOrDefault() bool {
	if f.ActiveOnly == nil {
		return true
	}
	return *f.ActiveOnly
}

// EffectiveLimit caps the requested limit at max, applying the given
// default when Limit is zero and rejecting a negative limit with an error.
func EffectiveLimit(requested, def, max int) (int, error) {
	if requested == 0 {
		return def, nil
	}
	if requested < 0 {
		return 0, fmt.Errorf("limit must be greater than zero")
	}
	if requested > max {
		return max, nil
	}
	return requested, nil
}

// TerminalStatuses is the set excluded by active_only=true (§4.3).
var TerminalStatuses = map[MessageStatus]bool{
	StatusResolved:  true,
	StatusArchived:  true,
	StatusCancelled: true,
}
