// Package engine wires the data directory lock, the embedded store, and
// every component (participants, messages, index, compaction) behind a
// single handle, the way the teacher's root package wires its storage
// backend, lockfile, and daemon runner behind one Beads value.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/agentcoord/coordhub/internal/compaction"
	"github.com/agentcoord/coordhub/internal/config"
	"github.com/agentcoord/coordhub/internal/index"
	"github.com/agentcoord/coordhub/internal/messages"
	"github.com/agentcoord/coordhub/internal/participants"
	"github.com/agentcoord/coordhub/internal/store"
)

// Engine is the fully wired coordination engine: one per process, shared
// by every transport-facing caller (§5 "shared resources").
type Engine struct {
	Config       *config.Config
	DataDir      string
	Store        *store.Store
	Participants *participants.Registry
	Messages     *messages.Manager
	Index        *index.Engine
	Compaction   *compaction.Engine
}

// Open creates the data directory if absent, opens the store, and wires
// every component. cfg is consulted only for DataDirectory; callers
// needing the rest of cfg (token_limit, auto_compact, ...) read it off
// the returned Engine's Config field directly.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	dataDir := cfg.AbsDataDirectory(".")
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}

	st, err := store.Open(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Config:       cfg,
		DataDir:      dataDir,
		Store:        st,
		Participants: participants.New(st.DB()),
		Messages:     messages.New(st, dataDir),
		Index:        index.New(st),
		Compaction:   compaction.New(st, dataDir),
	}, nil
}

// Close releases the store handle. The directory lock is acquired and
// released per-operation (§5) and has nothing to release here.
func (e *Engine) Close() error {
	return e.Store.Close()
}
