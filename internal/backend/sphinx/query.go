package sphinx

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
)

// reserved are the characters with a meaning in the extended match syntax.
const reserved = `\()|-!@~"&/^$=<>*?[]{}:%'`

// Escape neutralizes every character of the match syntax in s.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// renderTerm writes a word as an escaped keyword and a phrase as one quoted
// atom.
func renderTerm(t parser.Term) []string {
	words := strings.Fields(t.Text)
	if len(words) == 0 {
		return nil
	}
	for i, w := range words {
		words[i] = Escape(w)
	}
	if t.Phrase {
		return []string{`"` + strings.Join(words, " ") + `"`}
	}
	return words
}

// MatchExpression renders the request in the daemon's boolean syntax:
// terms of a set are AND'ed, sets are OR'ed, excluded terms are negated.
// It returns "" when no set has a term.
func MatchExpression(req backend.Request) string {
	var sets [][]string
	for _, set := range req.Sets() {
		var parts []string
		for _, t := range set {
			parts = append(parts, renderTerm(t)...)
		}
		if len(parts) > 0 {
			sets = append(sets, parts)
		}
	}
	if len(sets) == 0 {
		return ""
	}
	groups := make([]string, len(sets))
	for i, parts := range sets {
		groups[i] = strings.Join(parts, " ")
		if len(sets) > 1 && len(parts) > 1 {
			groups[i] = "(" + groups[i] + ")"
		}
	}
	expr := strings.Join(groups, " | ")
	var excluded []string
	for _, t := range req.Excluded() {
		for _, p := range renderTerm(t) {
			excluded = append(excluded, "-"+p)
		}
	}
	if len(excluded) > 0 {
		if len(groups) > 1 {
			expr = "(" + expr + ")"
		}
		expr += " " + strings.Join(excluded, " ")
	}
	if req.SubjectOnly {
		return "@" + sphinxconf.FieldSubject + " (" + expr + ")"
	}
	return expr
}

var selectColumns = []string{
	"id",
	sphinxconf.AttrTopic,
	sphinxconf.AttrPosted,
	sphinxconf.AttrReplies,
	sphinxconf.AttrLikes,
	sphinxconf.AttrFirst,
	sphinxconf.AttrSticky,
	sphinxconf.AttrMinMsg,
	sphinxconf.AttrMaxMsg,
	sphinxconf.AttrRelevance,
	"WEIGHT() AS matches",
}

func orderBy(s backend.Sort) string {
	switch s {
	case backend.SortRelevance:
		return sphinxconf.AttrRelevance + " DESC, id ASC"
	case backend.SortOldest:
		return sphinxconf.AttrPosted + " ASC, id ASC"
	default:
		return sphinxconf.AttrPosted + " DESC, id ASC"
	}
}

// statement builds the SphinxQL SELECT for req. Values travel as arguments
// and are interpolated by the driver.
func (b *Backend) statement(req backend.Request, match string) (string, []any) {
	var (
		where = []string{"MATCH(?)"}
		args  = []any{match}
	)
	in := func(col string, ids []uint32) {
		if len(ids) == 0 {
			return
		}
		marks := make([]string, len(ids))
		for i, id := range ids {
			marks[i] = "?"
			args = append(args, int64(id))
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", ")))
	}
	cmp := func(col, op string, v int64) {
		where = append(where, fmt.Sprintf("%s %s ?", col, op))
		args = append(args, v)
	}

	f := req.Filter
	in(sphinxconf.AttrBoard, f.BoardIDs)
	in(sphinxconf.AttrMember, f.MemberIDs)
	if f.TopicID != 0 {
		cmp(sphinxconf.AttrTopic, "=", int64(f.TopicID))
	}
	if !f.From.IsZero() {
		cmp(sphinxconf.AttrPosted, ">=", f.From.Unix())
	}
	if !f.To.IsZero() {
		cmp(sphinxconf.AttrPosted, "<=", f.To.Unix())
	}
	if f.MinID != 0 {
		cmp("id", ">=", int64(f.MinID))
	}
	if f.MaxID != 0 {
		cmp("id", "<=", int64(f.MaxID))
	}

	order := orderBy(req.Sort)
	var q strings.Builder
	fmt.Fprintf(&q, "SELECT %s FROM %s WHERE %s",
		strings.Join(selectColumns, ", "), b.index, strings.Join(where, " AND "))
	if req.GroupByTopic {
		fmt.Fprintf(&q, " GROUP BY %s WITHIN GROUP ORDER BY %s", sphinxconf.AttrTopic, order)
	}
	fmt.Fprintf(&q, " ORDER BY %s LIMIT 0, %d", order, b.maxMatches)
	fmt.Fprintf(&q, " OPTION field_weights=(%s=%d, %s=%d), max_matches=%d, ranker=proximity_bm25",
		sphinxconf.FieldSubject, b.fieldWeights.Subject,
		sphinxconf.FieldBody, b.fieldWeights.Body,
		b.maxMatches)
	return q.String(), args
}
