// Package coordhub provides a minimal public API for extending the
// coordination bus with custom orchestration.
//
// Most callers should drive the engine through the tool surface in
// internal/dispatch. This package exports only the essential types and
// constructors needed for Go-based extensions that want to use the
// engine's storage and component layers programmatically.
package coordhub

import (
	"context"

	"github.com/agentcoord/coordhub/internal/compaction"
	"github.com/agentcoord/coordhub/internal/config"
	"github.com/agentcoord/coordhub/internal/dispatch"
	"github.com/agentcoord/coordhub/internal/engine"
	"github.com/agentcoord/coordhub/internal/messages"
	"github.com/agentcoord/coordhub/internal/types"
)

// Core types for working with messages and participants.
type (
	Message      = types.Message
	Participant  = types.Participant
	Conversation = types.Conversation
	GetFilter    = types.GetFilter
)

// Message status constants.
const (
	StatusPending   = types.StatusPending
	StatusRead      = types.StatusRead
	StatusResponded = types.StatusResponded
	StatusResolved  = types.StatusResolved
	StatusArchived  = types.StatusArchived
	StatusCancelled = types.StatusCancelled
)

// Priority constants.
const (
	PriorityCritical = types.PriorityCritical
	PriorityHigh     = types.PriorityHigh
	PriorityMedium   = types.PriorityMedium
	PriorityLow      = types.PriorityLow
)

// Config is the engine's configuration record (§6.2 of the coordination
// contract this module implements).
type Config = config.Config

// LoadConfig loads the engine configuration from COORD_CONFIG or the
// conventional relative path, falling back to defaults.
func LoadConfig() *Config {
	return config.Load()
}

// Engine is the fully wired coordination engine.
type Engine = engine.Engine

// OpenEngine opens (creating if absent) the data directory named by
// cfg and wires every component behind the returned Engine.
func OpenEngine(cfg *Config) (*Engine, error) {
	return engine.Open(context.Background(), cfg)
}

// Dispatcher is the Tool Dispatcher component (§4.6); Dispatch resolves
// the configured participant, validates arguments, and returns a
// formatted {content, isError} result for each named operation in §6.1.
type Dispatcher = dispatch.Dispatcher

// NewDispatcher builds a Dispatcher acting on behalf of participantID.
func NewDispatcher(eng *Engine, participantID string) *Dispatcher {
	return dispatch.New(eng, participantID)
}

// CompactionStrategy names one of the three thread-compaction strategies.
type CompactionStrategy = compaction.Strategy

const (
	CompactSummarize   = compaction.StrategySummarize
	CompactConsolidate = compaction.StrategyConsolidate
	CompactArchive     = compaction.StrategyArchive
)

// CreateInput is the caller-supplied portion of a new message.
type CreateInput = messages.CreateInput
