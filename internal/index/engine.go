// Package index implements the Indexing Engine (C5): the three-mode
// search dispatch (FTS/tags/substring), supplemental tag derivation,
// tag suggestions, usage stats, and related-message lookup (§4.4), all
// built on top of the FTS5-backed query surface in internal/store.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentcoord/coordhub/internal/store"
	"github.com/agentcoord/coordhub/internal/types"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Engine is the Indexing Engine component.
type Engine struct {
	st *store.Store
}

// New builds an Engine backed by st.
func New(st *store.Store) *Engine {
	return &Engine{st: st}
}

// Hit is a search result: a message plus its relevance score and the
// ~100-character window of text the query matched in, if any (§4.4).
type Hit struct {
	Message      *types.Message
	Score        float64
	MatchContext string
}

// SearchInput is the caller-supplied search request (§4.4, §6.1
// ccp_search_messages).
type SearchInput struct {
	Query         string
	Semantic      *bool // nil means the §4.4 default of true
	Tags          []string
	DateFrom      *time.Time
	DateTo        *time.Time
	ParticipantOr []string
	Limit         int
}

func (in SearchInput) semanticOrDefault() bool {
	if in.Semantic == nil {
		return true
	}
	return *in.Semantic
}

// Search dispatches to the FTS, tag, or substring mode in that priority
// order (§4.4).
func (e *Engine) Search(ctx context.Context, in SearchInput) ([]Hit, error) {
	limit, err := types.EffectiveLimit(in.Limit, defaultSearchLimit, maxSearchLimit)
	if err != nil {
		return nil, err
	}

	var hits []store.Hit
	switch {
	case in.semanticOrDefault() && strings.TrimSpace(in.Query) != "":
		expr := buildFTSExpr(in.Query)
		if expr != "" {
			hits, err = store.SearchFTS(ctx, e.st.DB(), expr, in.ParticipantOr, in.DateFrom, in.DateTo, limit)
		}
	case len(in.Tags) > 0:
		hits, err = store.SearchByTag(ctx, e.st.DB(), in.Tags, in.ParticipantOr, in.DateFrom, in.DateTo, limit)
	case strings.TrimSpace(in.Query) != "":
		hits, err = store.SearchSubstring(ctx, e.st.DB(), in.Query, in.ParticipantOr, in.DateFrom, in.DateTo, limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{
			Message:      h.Message,
			Score:        h.Score,
			MatchContext: matchContext(h.Message.Subject+" "+h.Message.Summary, in.Query),
		}
	}
	return out, nil
}

// techKeywords are the supplemental tags index_message derives from a
// message's subject/summary text (§4.4).
var techKeywords = []string{"api", "database", "auth", "security", "frontend", "backend", "ui", "bug", "performance"}

// IndexMessage derives supplemental tags from msg's subject and summary
// and, if any are new, persists the union back to the row's tags (§4.4).
// FTS content itself is kept current by the schema's triggers; this only
// handles the tag side.
func (e *Engine) IndexMessage(ctx context.Context, msg *types.Message) ([]string, error) {
	derived := deriveTags(msg)
	merged := unionTags(msg.Tags, derived)
	if len(merged) == len(msg.Tags) {
		return msg.Tags, nil
	}

	tagsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal derived tags: %w", err)
	}
	if err := store.UpdateMessageFields(ctx, e.st.DB(), msg.ID, "tags_json = ?, indexed_tags_json = ?", string(tagsJSON), string(tagsJSON)); err != nil {
		return nil, err
	}
	msg.Tags = merged
	return merged, nil
}

func deriveTags(msg *types.Message) []string {
	text := strings.ToLower(msg.Subject + " " + msg.Summary)
	var tags []string
	for _, kw := range techKeywords {
		if strings.Contains(text, kw) {
			tags = append(tags, kw)
		}
	}
	if msg.Priority == types.PriorityCritical {
		tags = append(tags, "urgent")
	}
	if msg.Type != "" {
		tags = append(tags, string(msg.Type))
	}
	return tags
}

func unionTags(existing, added []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range existing {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	for _, t := range added {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// TagSuggestions returns distinct tags visible to requesterID matching
// query as a substring, ordered by descending usage count (§4.4).
func (e *Engine) TagSuggestions(ctx context.Context, requesterID string, query string, limit int) ([]string, error) {
	counts, err := store.TagUsageCounts(ctx, e.st.DB(), []string{requesterID, types.AllParticipant})
	if err != nil {
		return nil, err
	}

	var matched []string
	needle := strings.ToLower(query)
	for tag := range counts {
		if needle == "" || strings.Contains(strings.ToLower(tag), needle) {
			matched = append(matched, tag)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if counts[matched[i]] != counts[matched[j]] {
			return counts[matched[i]] > counts[matched[j]]
		}
		return matched[i] < matched[j]
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Stats is the usage summary returned by Stats (§4.4).
type Stats struct {
	SentCount             int
	ReceivedCount         int
	ByType                map[string]int
	ByPriority            map[string]int
	ByStatus              map[string]int
	ResponseRate          float64
	MeanResponseTimeHours float64
}

// Stats computes sent/received counts, type/priority/status
// distributions, response rate, and mean response time for participantID
// over the trailing window of days (§4.4).
func (e *Engine) Stats(ctx context.Context, participantID string, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	msgs, err := store.ListMessages(ctx, e.st.DB(), store.MessageFilter{
		ParticipantOr: []string{participantID, types.AllParticipant},
		SinceHours:    float64(days) * 24,
	})
	if err != nil {
		return nil, err
	}

	s := &Stats{
		ByType:     map[string]int{},
		ByPriority: map[string]int{},
		ByStatus:   map[string]int{},
	}
	var responseRequiredTotal, answered int
	var responseTimeTotal float64
	var responseTimeCount int

	for _, m := range msgs {
		if m.From == participantID {
			s.SentCount++
		}
		targetsParticipant := containsString(m.To, participantID) || containsString(m.To, types.AllParticipant)
		if targetsParticipant {
			s.ReceivedCount++
		}
		s.ByType[string(m.Type)]++
		s.ByPriority[string(m.Priority)]++
		s.ByStatus[string(m.Status)]++

		if m.ResponseRequired && targetsParticipant {
			responseRequiredTotal++
			if m.Status == types.StatusResponded || m.Status == types.StatusResolved {
				answered++
			}
		}
		if m.ResolvedAt != nil {
			responseTimeTotal += m.ResolvedAt.Sub(m.CreatedAt).Hours()
			responseTimeCount++
		}
	}

	if responseRequiredTotal > 0 {
		s.ResponseRate = float64(answered) / float64(responseRequiredTotal)
	}
	if responseTimeCount > 0 {
		s.MeanResponseTimeHours = responseTimeTotal / float64(responseTimeCount)
	}
	return s, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Related extracts keywords from messageID's subject+summary, searches
// for other messages matching any of them, drops the original id, and
// returns the top limit hits (§4.4).
func (e *Engine) Related(ctx context.Context, messageID string, participantOr []string, limit int) ([]Hit, error) {
	msg, err := store.GetMessageByID(ctx, e.st.DB(), messageID)
	if err != nil {
		return nil, err
	}
	keywords := extractKeywords(msg.Subject + " " + msg.Summary)
	if len(keywords) == 0 {
		return nil, nil
	}
	var ors []string
	for _, k := range keywords {
		ors = append(ors, `"`+k+`"`)
	}
	expr := "(" + strings.Join(ors, " OR ") + ")"

	hits, err := store.SearchFTS(ctx, e.st.DB(), expr, participantOr, nil, nil, limit+1)
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Message.ID == messageID {
			continue
		}
		out = append(out, Hit{Message: h.Message, Score: h.Score})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
