package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentcoord/coordhub/internal/compaction"
	"github.com/agentcoord/coordhub/internal/index"
	"github.com/agentcoord/coordhub/internal/messages"
	"github.com/agentcoord/coordhub/internal/participants"
	"github.com/agentcoord/coordhub/internal/types"
)

// --- ccp_send_message ---

type sendMessageArgs struct {
	To                []string `json:"to"`
	Type              string   `json:"type"`
	Priority          string   `json:"priority"`
	Subject           string   `json:"subject"`
	Content           string   `json:"content"`
	ResponseRequired  *bool    `json:"response_required"`
	ExpiresInHours    float64  `json:"expires_in_hours"`
	Tags              []string `json:"tags"`
	SuggestedApproach any      `json:"suggested_approach"`
}

func (d *Dispatcher) sendMessage(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args sendMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if len(args.To) == 0 {
		return nil, validationErr("to must be non-empty")
	}
	if !types.MessageType(args.Type).Valid() {
		return nil, validationErr("invalid type %q", args.Type)
	}

	var recipients []*types.Participant
	for _, id := range args.To {
		if id == types.AllParticipant {
			continue
		}
		p, err := d.eng.Participants.Get(ctx, id)
		if err != nil {
			return nil, validationErr("recipient %s is not registered", id)
		}
		recipients = append(recipients, p)
	}
	if self.Status != types.ParticipantActive {
		return nil, permissionErr("%s is not active", self.ID)
	}
	if len(recipients) > 0 && !participants.CanSend(self, recipients) {
		return nil, permissionErr("%s may not send to one or more of %v", self.ID, args.To)
	}

	responseRequired := true
	if args.ResponseRequired != nil {
		responseRequired = *args.ResponseRequired
	}
	expires := args.ExpiresInHours
	if expires == 0 {
		expires = 168
	}

	msg, err := d.eng.Messages.Create(ctx, self, messages.CreateInput{
		To:                args.To,
		Type:              types.MessageType(args.Type),
		Priority:          types.Priority(args.Priority),
		Subject:           args.Subject,
		Content:           args.Content,
		ResponseRequired:  responseRequired,
		ExpiresInHours:    expires,
		Tags:              args.Tags,
		SuggestedApproach: args.SuggestedApproach,
	})
	if err != nil {
		return nil, err
	}

	if _, err := d.eng.Index.IndexMessage(ctx, msg); err != nil {
		return nil, err
	}

	return textResult(fmt.Sprintf("Sent %s (thread %s) to %s, status=%s", msg.ID, msg.ThreadID, strings.Join(msg.To, ", "), msg.Status)), nil
}

// --- ccp_get_messages ---

type getMessagesArgs struct {
	Participant string   `json:"participant"`
	Status      []string `json:"status"`
	Type        []string `json:"type"`
	Priority    []string `json:"priority"`
	SinceHours  float64  `json:"since_hours"`
	ThreadID    string   `json:"thread_id"`
	Limit       int      `json:"limit"`
	DetailLevel string   `json:"detail_level"`
	ActiveOnly  *bool    `json:"active_only"`
}

func (d *Dispatcher) getMessages(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args getMessagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	limit, err := types.EffectiveLimit(args.Limit, 20, 100)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	detail := types.DetailLevel(args.DetailLevel)
	if detail == "" {
		detail = types.DetailFull
	}
	if !detail.Valid() {
		return nil, validationErr("invalid detail_level %q", args.DetailLevel)
	}

	f := types.GetFilter{
		Participant: args.Participant,
		SinceHours:  args.SinceHours,
		ThreadID:    args.ThreadID,
		ActiveOnly:  args.ActiveOnly,
		Limit:       limit,
		DetailLevel: detail,
	}
	for _, s := range args.Status {
		f.Status = append(f.Status, types.MessageStatus(s))
	}
	for _, t := range args.Type {
		f.Type = append(f.Type, types.MessageType(t))
	}
	for _, p := range args.Priority {
		f.Priority = append(f.Priority, types.Priority(p))
	}

	msgs, err := d.eng.Messages.Get(ctx, self, f)
	if err != nil {
		return nil, err
	}

	var visible []*types.Message
	for _, m := range msgs {
		if participants.CanAccessMessage(self, m.From, m.To) {
			visible = append(visible, m)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d message(s)\n", len(visible))
	for _, m := range visible {
		fmt.Fprintf(&b, "- %s [%s/%s] %s: %s\n", m.ID, m.Priority, m.Status, m.Subject, m.Summary)
	}
	return textResult(b.String()), nil
}

// --- ccp_respond_message ---

type respondMessageArgs struct {
	MessageID         string `json:"message_id"`
	Content           string `json:"content"`
	ResolutionStatus  string `json:"resolution_status"`
	SuggestedApproach any    `json:"suggested_approach"`
}

func (d *Dispatcher) respondMessage(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args respondMessageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.MessageID == "" {
		return nil, validationErr("message_id is required")
	}

	resp, err := d.eng.Messages.Respond(ctx, self, args.MessageID, messages.ResponseInput{
		Content:           args.Content,
		ResolutionStatus:  types.ResolutionStatus(args.ResolutionStatus),
		SuggestedApproach: args.SuggestedApproach,
	})
	if err != nil {
		return nil, err
	}
	if _, err := d.eng.Index.IndexMessage(ctx, resp); err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Responded with %s in thread %s", resp.ID, resp.ThreadID)), nil
}

// --- ccp_search_messages ---

type dateRangeArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type searchMessagesArgs struct {
	Query        string         `json:"query"`
	Semantic     *bool          `json:"semantic"`
	Tags         []string       `json:"tags"`
	DateRange    *dateRangeArgs `json:"date_range"`
	Participants []string       `json:"participants"`
	Limit        int            `json:"limit"`
}

func (d *Dispatcher) searchMessages(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args searchMessagesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	in := index.SearchInput{
		Query:    args.Query,
		Semantic: args.Semantic,
		Tags:     args.Tags,
		Limit:    args.Limit,
	}
	// participants never widens visibility beyond what the requester is
	// already authorized to see (§4.2): admins may use it to pick which
	// participants' rows the store query targets, but everyone else's
	// store-level filter stays pinned to their own authorized set, and the
	// caller-supplied list is applied as a post-hoc narrowing filter below
	// (same authorization shape as ccp_get_messages' CanAccessMessage pass).
	if self.IsAdmin() && len(args.Participants) > 0 {
		in.ParticipantOr = args.Participants
	} else {
		in.ParticipantOr = []string{self.ID, types.AllParticipant}
	}
	if args.DateRange != nil {
		if t, err := time.Parse(time.RFC3339, args.DateRange.From); err == nil {
			in.DateFrom = &t
		}
		if t, err := time.Parse(time.RFC3339, args.DateRange.To); err == nil {
			in.DateTo = &t
		}
	}

	hits, err := d.eng.Index.Search(ctx, in)
	if err != nil {
		return nil, err
	}

	var visible []index.Hit
	for _, h := range hits {
		if !participants.CanAccessMessage(self, h.Message.From, h.Message.To) {
			continue
		}
		if !self.IsAdmin() && len(args.Participants) > 0 && !matchesAnyParticipant(h.Message.From, h.Message.To, args.Participants) {
			continue
		}
		visible = append(visible, h)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s)\n", len(visible))
	for _, h := range visible {
		fmt.Fprintf(&b, "- %s (score %.2f) %s: %s\n", h.Message.ID, h.Score, h.Message.Subject, h.MatchContext)
	}
	return textResult(b.String()), nil
}

// matchesAnyParticipant reports whether a message authored by from and
// addressed to the to list involves any participant in wanted, used to
// narrow ccp_search_messages' participants filter after authorization has
// already admitted the message.
func matchesAnyParticipant(from string, to []string, wanted []string) bool {
	for _, w := range wanted {
		if w == from {
			return true
		}
		for _, t := range to {
			if t == w {
				return true
			}
		}
	}
	return false
}

// --- ccp_compact_thread ---

type compactThreadArgs struct {
	ThreadID          string `json:"thread_id"`
	Strategy          string `json:"strategy"`
	PreserveDecisions *bool  `json:"preserve_decisions"`
	PreserveCritical  *bool  `json:"preserve_critical"`
}

func (d *Dispatcher) compactThread(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args compactThreadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ThreadID == "" {
		return nil, validationErr("thread_id is required")
	}
	strategy := compaction.Strategy(args.Strategy)
	if strategy == "" {
		strategy = compaction.StrategySummarize
	}
	if !strategy.Valid() {
		return nil, validationErr("invalid strategy %q", args.Strategy)
	}

	result, err := d.eng.Compaction.Compact(ctx, compaction.CompactInput{
		ThreadID:          args.ThreadID,
		Strategy:          strategy,
		PreserveDecisions: args.PreserveDecisions,
		PreserveCritical:  args.PreserveCritical,
		RequesterID:       self.ID,
	})
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Compacted %d message(s) into %d, saved %d bytes", result.OriginalCount, result.CompactedCount, result.SpaceSavedBytes)), nil
}

// --- ccp_archive_resolved ---

type archiveResolvedArgs struct {
	OlderThanDays    int   `json:"older_than_days"`
	PreserveCritical *bool `json:"preserve_critical"`
	CreateSummary    *bool `json:"create_summary"`
}

func (d *Dispatcher) archiveResolved(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args archiveResolvedArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if !self.IsAdmin() {
		return nil, permissionErr("archive_resolved requires admin capability")
	}

	days := args.OlderThanDays
	if days == 0 {
		days = 30
	}
	preserveCritical := true
	if args.PreserveCritical != nil {
		preserveCritical = *args.PreserveCritical
	}
	createSummary := true
	if args.CreateSummary != nil {
		createSummary = *args.CreateSummary
	}
	strategy := compaction.StrategyArchive
	if createSummary {
		strategy = compaction.StrategySummarize
	}

	results := d.eng.Compaction.AutoCompact(ctx, days, strategy, preserveCritical)
	return textResult(fmt.Sprintf("Archived %d thread(s) older than %d day(s)", len(results), days)), nil
}

// --- ccp_get_stats ---

type getStatsArgs struct {
	Participant         string `json:"participant"`
	TimeframeDays       int    `json:"timeframe_days"`
	IncludeParticipants bool   `json:"include_participants"`
}

func (d *Dispatcher) getStats(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args getStatsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	target := args.Participant
	if target == "" {
		target = self.ID
	}
	if target != self.ID && !self.IsAdmin() {
		return nil, permissionErr("only admins may view another participant's stats")
	}

	days := args.TimeframeDays
	if days <= 0 {
		days = 7
	}
	stats, err := d.eng.Index.Stats(ctx, target, days)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stats for %s (last %d days): sent=%d received=%d response_rate=%.0f%% mean_response_hours=%.1f\n",
		target, days, stats.SentCount, stats.ReceivedCount, stats.ResponseRate*100, stats.MeanResponseTimeHours)

	if args.IncludeParticipants && self.IsAdmin() {
		list, err := d.eng.Participants.List(ctx, "")
		if err == nil {
			fmt.Fprintf(&b, "Known participants: %d\n", len(list))
		}
	}
	return textResult(b.String()), nil
}

// --- ccp_register_participant ---

type registerParticipantArgs struct {
	ParticipantID   string   `json:"participant_id"`
	Capabilities    []string `json:"capabilities"`
	DefaultPriority string   `json:"default_priority"`
}

func (d *Dispatcher) registerParticipant(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	if !self.IsAdmin() {
		return nil, permissionErr("ccp_register_participant requires admin capability")
	}
	var args registerParticipantArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	p, err := d.eng.Participants.Register(ctx, args.ParticipantID, args.Capabilities, types.Priority(args.DefaultPriority))
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Registered %s (capabilities=%v, default_priority=%s)", p.ID, p.Capabilities, p.DefaultPriority)), nil
}

// --- ccp_whoami ---

func (d *Dispatcher) whoami(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	return textResult(fmt.Sprintf(
		"id=%s status=%s default_priority=%s capabilities=%v data_directory=%s",
		self.ID, self.Status, self.DefaultPriority, self.Capabilities, d.eng.DataDir,
	)), nil
}

// --- ccp_help / ccp_setup_guide ---

const helpText = `Available operations:
  ccp_send_message        send a message to one or more participants
  ccp_get_messages         list messages visible to you
  ccp_respond_message      reply to a message, sharing its thread
  ccp_search_messages      full-text, tag, or substring search
  ccp_compact_thread       summarize, consolidate, or archive a thread
  ccp_archive_resolved     batch-archive resolved threads (admin only)
  ccp_get_stats            usage statistics for a participant
  ccp_register_participant register a new participant (admin only)
  ccp_whoami               report the current participant and config
  ccp_close_thread         resolve every open message in a thread`

func (d *Dispatcher) help(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	return textResult(helpText), nil
}

const setupGuideText = `Setup:
  1. Choose a data directory (default .coordination) and point
     data_directory at it in your config file, or set COORD_CONFIG to
     the config file's path.
  2. Have an admin run ccp_register_participant for every participant
     that will send or receive messages.
  3. Set participant_id in your config to the identity this process
     speaks as.
  4. Call ccp_whoami to confirm the resolved identity before sending.`

func (d *Dispatcher) setupGuide(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	return textResult(setupGuideText), nil
}

// --- ccp_close_thread ---

type closeThreadArgs struct {
	ThreadID         string `json:"thread_id"`
	ResolutionStatus string `json:"resolution_status"`
	FinalSummary     string `json:"final_summary"`
}

func (d *Dispatcher) closeThread(ctx context.Context, self *types.Participant, raw json.RawMessage) (*mcp.CallToolResult, error) {
	var args closeThreadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.ThreadID == "" {
		return nil, validationErr("thread_id is required")
	}
	if args.ResolutionStatus == "" || !types.ResolutionStatus(args.ResolutionStatus).Valid() {
		return nil, validationErr("invalid resolution_status %q", args.ResolutionStatus)
	}

	n, err := d.eng.Messages.CloseThread(ctx, self.ID, messages.CloseThreadInput{
		MessageOrThreadID: args.ThreadID,
		ResolutionStatus:  types.ResolutionStatus(args.ResolutionStatus),
		FinalSummary:      args.FinalSummary,
	})
	if err != nil {
		return nil, err
	}
	return textResult(fmt.Sprintf("Closed thread %s: %d message(s) resolved", args.ThreadID, n)), nil
}
