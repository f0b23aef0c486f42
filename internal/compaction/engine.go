// Package compaction implements the Compaction Engine (C6): the three
// thread-compaction strategies (summarize, consolidate, archive),
// scheduled auto-compaction of stale resolved conversations, and token
// usage accounting (§4.5).
package compaction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentcoord/coordhub/internal/dirlock"
	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

// Strategy is one of the three compaction strategies (§4.5).
type Strategy string

const (
	StrategySummarize   Strategy = "summarize"
	StrategyConsolidate Strategy = "consolidate"
	StrategyArchive     Strategy = "archive"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategySummarize, StrategyConsolidate, StrategyArchive:
		return true
	}
	return false
}

// ErrNotAuthorized is returned by Compact when the requester is not a
// sender or recipient of any message in the thread (§4.5 precondition).
var ErrNotAuthorized = errors.New("requester is not part of this thread")

// ErrEmptyThread is returned when the thread has no messages to compact.
var ErrEmptyThread = errors.New("thread has no messages")

// Engine is the Compaction Engine component.
type Engine struct {
	st      *store.Store
	dataDir string
}

// New builds an Engine backed by st.
func New(st *store.Store, dataDir string) *Engine {
	return &Engine{st: st, dataDir: dataDir}
}

// CompactInput is the caller-supplied compaction request (§4.5, §6.1
// ccp_compact_thread).
type CompactInput struct {
	ThreadID          string
	Strategy          Strategy
	PreserveDecisions *bool // nil means the §4.5 default of true
	PreserveCritical  *bool // nil means the §4.5 default of true
	RequesterID       string
}

func boolOrDefaultTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// Result is what every strategy reports (§4.5).
type Result struct {
	OriginalCount   int
	CompactedCount  int
	Summary         string
	SpaceSavedBytes int64
}

// Compact runs the requested strategy against a thread (§4.5).
func (e *Engine) Compact(ctx context.Context, in CompactInput) (*Result, error) {
	if !in.Strategy.Valid() {
		return nil, fmt.Errorf("invalid compaction strategy %q", in.Strategy)
	}

	msgs, err := store.MessagesInThread(ctx, e.st.DB(), in.ThreadID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyThread
	}
	if in.RequesterID != "" && !requesterInThread(in.RequesterID, msgs) {
		return nil, ErrNotAuthorized
	}

	preSize, err := totalSize(e.dataDir, msgs)
	if err != nil {
		return nil, err
	}

	lock, err := dirlock.Acquire(ctx, e.dataDir)
	if err != nil {
		return nil, fmt.Errorf("acquire data directory lock: %w", err)
	}
	defer func() { _ = lock.Release() }()

	now := time.Now().UTC()
	var (
		result       *Result
		postSize     int64
		archivedRefs []string
	)

	switch in.Strategy {
	case StrategySummarize:
		result, postSize, archivedRefs, err = e.summarize(ctx, in.ThreadID, msgs, boolOrDefaultTrue(in.PreserveDecisions), now)
	case StrategyConsolidate:
		result, postSize, archivedRefs, err = e.consolidate(ctx, in.ThreadID, msgs, boolOrDefaultTrue(in.PreserveCritical), now)
	case StrategyArchive:
		result, archivedRefs, err = e.archive(ctx, in.ThreadID, msgs, now)
		postSize = preSize
	}
	if err != nil {
		return nil, err
	}

	for _, ref := range archivedRefs {
		if ref == "" {
			continue
		}
		if _, moveErr := archiveSidecarFile(e.dataDir, ref, now); moveErr != nil {
			continue
		}
	}

	result.SpaceSavedBytes = preSize - postSize
	return result, nil
}

func requesterInThread(requesterID string, msgs []*types.Message) bool {
	for _, m := range msgs {
		if m.From == requesterID {
			return true
		}
		for _, t := range m.To {
			if t == requesterID {
				return true
			}
		}
	}
	return false
}

func totalSize(dataDir string, msgs []*types.Message) (int64, error) {
	var total int64
	for _, m := range msgs {
		n, err := messageSize(dataDir, m)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func messageSize(dataDir string, m *types.Message) (int64, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("size message %s: %w", m.ID, err)
	}
	size := int64(len(b))
	if m.ContentRef != "" {
		if fi, err := os.Stat(filepath.Join(dataDir, m.ContentRef)); err == nil {
			size += fi.Size()
		}
	}
	return size, nil
}

// bucket names for the summarize strategy, in priority order (§4.5,
// exact section titles per §8 end-to-end scenario 6).
const (
	bucketCritical  = "Critical Issues"
	bucketDecisions = "Decisions Made"
	bucketResolved  = "Resolved Items"
	bucketResponses = "Prior Responses"
	bucketOther     = "Other Communications"
)

var bucketOrder = []string{bucketCritical, bucketDecisions, bucketResolved, bucketResponses, bucketOther}

func assignBucket(m *types.Message) string {
	switch {
	case m.Priority == types.PriorityCritical:
		return bucketCritical
	case hasTag(m.Tags, "decision") || strings.Contains(strings.ToLower(m.Subject), "decision"):
		return bucketDecisions
	case m.Status == types.StatusResolved:
		return bucketResolved
	case hasPrefixedTag(m.Tags, "response_to:"):
		return bucketResponses
	default:
		return bucketOther
	}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func hasPrefixedTag(tags []string, prefix string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// summarize buckets every message, composes a markdown summary, archives
// the originals, and inserts one `<thread>-SUMMARY` message pointing at
// the summary sidecar (§4.5).
func (e *Engine) summarize(ctx context.Context, threadID string, msgs []*types.Message, preserveDecisions bool, now time.Time) (*Result, int64, []string, error) {
	buckets := map[string][]*types.Message{}
	for _, m := range msgs {
		b := assignBucket(m)
		buckets[b] = append(buckets[b], m)
	}

	exchanges := map[string]bool{}
	for _, m := range msgs {
		exchanges[m.From] = true
	}

	var md strings.Builder
	fmt.Fprintf(&md, "# Thread Summary\nCompacted %d messages from %d exchanges.\n", len(msgs), len(exchanges))
	for _, b := range bucketOrder {
		if b == bucketDecisions && !preserveDecisions {
			continue
		}
		items := buckets[b]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&md, "\n## %s (%d)\n", b, len(items))
		for _, m := range items {
			excerpt := m.Summary
			if len(excerpt) > 150 {
				excerpt = excerpt[:150]
			}
			fmt.Fprintf(&md, "- %s: %s\n", m.Subject, excerpt)
		}
	}
	fullText := md.String()

	commonTags := commonTagsAbove(msgs, 0.25)
	tags := append([]string{"compacted", "summary"}, commonTags...)

	first := msgs[0]
	sidecarName := fmt.Sprintf("%s-summary-%d.md", threadID, now.UnixMilli())
	ref, err := writeArchiveSidecar(e.dataDir, now, sidecarName, fullText)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("write summary sidecar: %w", err)
	}

	summaryMsg := &types.Message{
		ID:         threadID + "-SUMMARY",
		ThreadID:   threadID,
		From:       types.ReservedSystemParticipant,
		To:         first.To,
		Type:       first.Type,
		Priority:   first.Priority,
		Status:     types.StatusArchived,
		Subject:    "Summary: " + first.Subject,
		Summary:    types.ComputeSummary(fullText),
		ContentRef: ref,
		CreatedAt:  now,
		UpdatedAt:  now,
		Tags:       tags,
	}

	var archivedRefs []string
	err = e.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := store.UpdateMessageFields(ctx, tx, m.ID, "status = ?, updated_at = ?", string(types.StatusArchived), formatTimeArg(now)); err != nil {
				return err
			}
			if m.ContentRef != "" {
				archivedRefs = append(archivedRefs, m.ContentRef)
			}
		}
		return store.InsertMessage(ctx, tx, summaryMsg)
	})
	if err != nil {
		return nil, 0, nil, err
	}

	postSize, err := messageSize(e.dataDir, summaryMsg)
	if err != nil {
		return nil, 0, nil, err
	}
	return &Result{OriginalCount: len(msgs), CompactedCount: 1, Summary: fullText}, postSize, archivedRefs, nil
}

func commonTagsAbove(msgs []*types.Message, fraction float64) []string {
	counts := map[string]int{}
	for _, m := range msgs {
		for _, t := range m.Tags {
			counts[t]++
		}
	}
	threshold := int(math.Ceil(fraction * float64(len(msgs))))
	var out []string
	for tag, n := range counts {
		if n >= threshold {
			out = append(out, tag)
		}
	}
	sort.Strings(out)
	return out
}

type groupKey struct {
	from     string
	msgType  types.MessageType
	priority types.Priority
}

// consolidate groups non-critical messages by (from, type, priority);
// groups of size 1 pass through, larger groups collapse into one
// synthetic message (§4.5).
func (e *Engine) consolidate(ctx context.Context, threadID string, msgs []*types.Message, preserveCritical bool, now time.Time) (*Result, int64, []string, error) {
	var order []groupKey
	groups := map[groupKey][]*types.Message{}
	criticalPassthrough := 0

	for _, m := range msgs {
		if preserveCritical && m.Priority == types.PriorityCritical {
			criticalPassthrough++
			continue
		}
		k := groupKey{from: m.From, msgType: m.Type, priority: m.Priority}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}

	var synthetic []*types.Message
	var archivedRefs []string
	err := e.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, k := range order {
			group := groups[k]
			if len(group) == 1 {
				continue
			}
			first, last := group[0], group[len(group)-1]

			subject := "Consolidated: " + first.Subject
			if len(group) > 2 {
				subject = fmt.Sprintf("%s (+%d more)", subject, len(group)-1)
			}

			var body strings.Builder
			fmt.Fprintf(&body, "Consolidated %d messages:\n\n", len(group))
			for i, m := range group {
				excerpt := m.Summary
				if len(excerpt) > 200 {
					excerpt = excerpt[:200]
				}
				fmt.Fprintf(&body, "%d. %s\n", i+1, excerpt)
			}
			fullText := body.String()

			sm := &types.Message{
				ID:        first.ID + "-CONSOLIDATED",
				ThreadID:  threadID,
				From:      first.From,
				To:        first.To,
				Type:      first.Type,
				Priority:  first.Priority,
				Status:    types.StatusArchived,
				Subject:   subject,
				Summary:   types.ComputeSummary(fullText),
				CreatedAt: first.CreatedAt,
				UpdatedAt: last.UpdatedAt,
				Tags:      append(append([]string{}, first.Tags...), "consolidated"),
			}
			if types.NeedsSidecar(fullText) {
				ref, err := writeArchiveSidecar(e.dataDir, now, sm.ID+".md", fullText)
				if err != nil {
					return fmt.Errorf("write consolidated sidecar: %w", err)
				}
				sm.ContentRef = ref
			}

			for _, m := range group {
				if err := store.UpdateMessageFields(ctx, tx, m.ID, "status = ?, updated_at = ?", string(types.StatusArchived), formatTimeArg(now)); err != nil {
					return err
				}
				if m.ContentRef != "" {
					archivedRefs = append(archivedRefs, m.ContentRef)
				}
			}
			if err := store.InsertMessage(ctx, tx, sm); err != nil {
				return err
			}
			synthetic = append(synthetic, sm)
		}
		return nil
	})
	if err != nil {
		return nil, 0, nil, err
	}

	var postSize int64
	for _, sm := range synthetic {
		n, err := messageSize(e.dataDir, sm)
		if err != nil {
			return nil, 0, nil, err
		}
		postSize += n
	}

	return &Result{
		OriginalCount:  len(msgs),
		CompactedCount: len(synthetic) + criticalPassthrough,
	}, postSize, archivedRefs, nil
}

// archive moves every sidecar to the dated archive directory, marks every
// message archived, and sets the conversation row archived (§4.5).
func (e *Engine) archive(ctx context.Context, threadID string, msgs []*types.Message, now time.Time) (*Result, []string, error) {
	var archivedRefs []string
	err := e.st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := store.UpdateMessageFields(ctx, tx, m.ID, "status = ?, updated_at = ?", string(types.StatusArchived), formatTimeArg(now)); err != nil {
				return err
			}
			if m.ContentRef != "" {
				archivedRefs = append(archivedRefs, m.ContentRef)
			}
		}
		return store.SetConversationStatus(ctx, tx, threadID, types.ConversationArchived, "thread archived by compaction", now)
	})
	if err != nil {
		return nil, nil, err
	}
	return &Result{OriginalCount: len(msgs), CompactedCount: len(msgs)}, archivedRefs, nil
}

// AutoCompact iterates resolved conversations whose last_activity
// predates the cutoff and compacts each with @system as the actor,
// swallowing per-thread failures (§4.5).
func (e *Engine) AutoCompact(ctx context.Context, olderThanDays int, strategy Strategy, preserveCritical bool) []*Result {
	if olderThanDays <= 0 {
		olderThanDays = 30
	}
	if !strategy.Valid() {
		strategy = StrategySummarize
	}
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).UTC()

	convos, err := store.ResolvedConversationsOlderThan(ctx, e.st.DB(), cutoff)
	if err != nil {
		return nil
	}

	var results []*Result
	for _, c := range convos {
		r, err := e.Compact(ctx, CompactInput{
			ThreadID:         c.ThreadID,
			Strategy:         strategy,
			RequesterID:      types.ReservedSystemParticipant,
			PreserveCritical: &preserveCritical,
		})
		if err != nil {
			continue
		}
		results = append(results, r)
	}
	return results
}

// TokenUsage is the result of CalculateTokenUsage (§4.5).
type TokenUsage struct {
	TotalTokens     int
	ByStatus        map[string]int
	ByPriority      map[string]int
	Recommendations []string
}

// CalculateTokenUsage estimates token usage for every message where
// participantID is sender or recipient, bucketed by status/priority, with
// textual recommendations once heuristic thresholds are crossed (§4.5).
func (e *Engine) CalculateTokenUsage(ctx context.Context, participantID string) (*TokenUsage, error) {
	msgs, err := store.ListMessages(ctx, e.st.DB(), store.MessageFilter{ParticipantOr: []string{participantID, types.AllParticipant}})
	if err != nil {
		return nil, err
	}

	usage := &TokenUsage{ByStatus: map[string]int{}, ByPriority: map[string]int{}}
	archivedCount := 0
	lowPriorityCount := 0

	for _, m := range msgs {
		sidecarSize := 0
		if m.ContentRef != "" {
			if fi, err := os.Stat(filepath.Join(e.dataDir, m.ContentRef)); err == nil {
				sidecarSize = int(fi.Size())
			}
		}
		tokens := int(math.Ceil(float64(len(m.Subject)+len(m.Summary)+sidecarSize) / 4))
		usage.TotalTokens += tokens
		usage.ByStatus[string(m.Status)] += tokens
		usage.ByPriority[string(m.Priority)] += tokens
		if m.Status == types.StatusArchived {
			archivedCount++
		}
		if m.Priority == types.PriorityLow {
			lowPriorityCount++
		}
	}

	if len(msgs) > 0 {
		if usage.TotalTokens > 50000 {
			usage.Recommendations = append(usage.Recommendations, "total token usage exceeds 50,000; consider compacting older threads")
		}
		if float64(archivedCount)/float64(len(msgs)) > 0.3 {
			usage.Recommendations = append(usage.Recommendations, "more than 30% of messages are archived; run archive_resolved to free space")
		}
		if float64(lowPriorityCount)/float64(len(msgs)) > 0.4 {
			usage.Recommendations = append(usage.Recommendations, "more than 40% of messages are low priority; consider a consolidate pass")
		}
	}
	return usage, nil
}

func formatTimeArg(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
