package store

import (
	"context"
	"strings"
	"time"

	"github.com/agentcoord/coordhub/internal/types"
)

// Hit pairs a message with its relevance score, the unit the Indexing
// Engine's three search modes all return (§4.4).
type Hit struct {
	Message *types.Message
	Score   float64
}

func participantClause(participantOr []string, args *[]any) string {
	if len(participantOr) == 0 {
		return ""
	}
	var ors []string
	for _, p := range participantOr {
		ors = append(ors, "(m.from_id = ? OR m.to_json LIKE ?)")
		*args = append(*args, p, "%\""+p+"\"%")
	}
	return " AND (" + strings.Join(ors, " OR ") + ")"
}

func dateRangeClause(from, to *time.Time, args *[]any) string {
	var clause string
	if from != nil {
		clause += " AND m.created_at >= ?"
		*args = append(*args, formatTime(*from))
	}
	if to != nil {
		clause += " AND m.created_at <= ?"
		*args = append(*args, formatTime(*to))
	}
	return clause
}

// SearchFTS runs the sanitized FTS5 expression over subject+summary+tags,
// normalizing the (negative, lower-is-better) bm25 rank to
// max(0, min(1, 1+rank)) per §4.4.
func SearchFTS(ctx context.Context, q querier, ftsExpr string, participantOr []string, from, to *time.Time, limit int) ([]Hit, error) {
	if strings.TrimSpace(ftsExpr) == "" {
		return nil, nil
	}
	var args []any
	args = append(args, ftsExpr)
	query := `
		SELECT ` + prefixedColumns("m") + `, messages_fts.rank
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.id
		WHERE messages_fts MATCH ?
	`
	query += participantClause(participantOr, &args)
	query += dateRangeClause(from, to, &args)
	query += " ORDER BY messages_fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("fts search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Hit
	for rows.Next() {
		m, rank, err := scanMessageWithRank(rows)
		if err != nil {
			return nil, wrapDBError("scan fts hit", err)
		}
		score := 1 + rank
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		out = append(out, Hit{Message: m, Score: score})
	}
	return out, wrapDBError("iterate fts hits", rows.Err())
}

// SearchByTag selects messages whose tags contain any of the supplied
// tags, with a descending synthetic fallback rank (§4.4 mode 2).
func SearchByTag(ctx context.Context, q querier, tags []string, participantOr []string, from, to *time.Time, limit int) ([]Hit, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	var args []any
	var ors []string
	for _, t := range tags {
		ors = append(ors, "m.tags_json LIKE ?")
		args = append(args, "%\""+t+"\"%")
	}
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE (` + strings.Join(ors, " OR ") + ")"
	query += participantClause(participantOr, &args)
	query += dateRangeClause(from, to, &args)
	query += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("tag search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Hit
	idx := 0
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("scan tag hit", err)
		}
		out = append(out, Hit{Message: m, Score: 1.0 - 0.1*float64(idx)})
		idx++
	}
	return out, wrapDBError("iterate tag hits", rows.Err())
}

// SearchSubstring is the fallback mode 3: plain substring match on
// subject or summary.
func SearchSubstring(ctx context.Context, q querier, needle string, participantOr []string, from, to *time.Time, limit int) ([]Hit, error) {
	if strings.TrimSpace(needle) == "" {
		return nil, nil
	}
	args := []any{"%" + needle + "%", "%" + needle + "%"}
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE (m.subject LIKE ? OR m.summary LIKE ?)`
	query += participantClause(participantOr, &args)
	query += dateRangeClause(from, to, &args)
	query += " ORDER BY m.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("substring search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Hit
	idx := 0
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapDBError("scan substring hit", err)
		}
		out = append(out, Hit{Message: m, Score: 1.0 - 0.1*float64(idx)})
		idx++
	}
	return out, wrapDBError("iterate substring hits", rows.Err())
}

func prefixedColumns(alias string) string {
	cols := strings.Split(strings.ReplaceAll(strings.TrimSpace(messageColumns), "\n", " "), ",")
	var out []string
	for _, c := range cols {
		out = append(out, alias+"."+strings.TrimSpace(c))
	}
	return strings.Join(out, ", ")
}

// TagUsageCounts returns how many messages carry each distinct tag,
// restricted to what participantOr can see, for tag_suggestions (§4.4).
func TagUsageCounts(ctx context.Context, q querier, participantOr []string) (map[string]int, error) {
	var args []any
	query := `SELECT tags_json FROM messages m WHERE 1=1`
	query += participantClause(participantOr, &args)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("tag usage scan", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[string]int{}
	for rows.Next() {
		var tagsJSON string
		if err := rows.Scan(&tagsJSON); err != nil {
			return nil, wrapDBError("scan tags", err)
		}
		for _, t := range unmarshalStrings(tagsJSON) {
			counts[t]++
		}
	}
	return counts, wrapDBError("iterate tag usage rows", rows.Err())
}
