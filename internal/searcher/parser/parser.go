// Package parser turns a raw search string into a structured query of
// included and excluded words and phrases.
package parser

import (
	"html"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxTerms caps both the included and the excluded term lists.
const MaxTerms = 10

// MinTermLength is the shortest term, in characters, that is searched for.
const MinTermLength = 2

// DefaultBlacklist holds words that are never searched for.
var DefaultBlacklist = []string{"img", "url", "quote", "www", "http", "the", "is", "it", "are", "if"}

// trimChars are stripped from both ends of every candidate term.
const trimChars = `-_'"`

// Term is a single word or a quoted phrase.
type Term struct {
	Text   string `json:"text"`
	Phrase bool   `json:"phrase,omitempty"`
}

// Query is the parsed form of a search string. It is never mutated after
// Parse returns.
type Query struct {
	Raw               string   `json:"raw"`
	Included          []Term   `json:"included"`
	Excluded          []Term   `json:"excluded"`
	IgnoredShortWords []string `json:"ignored_short_words,omitempty"`
	FoundBlacklisted  bool     `json:"found_blacklisted,omitempty"`
	emptyInput        bool
}

// Rejection explains why a query has nothing to search for.
type Rejection int

const (
	NotRejected Rejection = iota
	EmptyInput
	Blacklisted
	TooShort
	BlacklistedAndShort
	OnlyExcluded
)

func (r Rejection) String() string {
	switch r {
	case NotRejected:
		return "none"
	case EmptyInput:
		return "empty_input"
	case Blacklisted:
		return "blacklisted"
	case TooShort:
		return "too_short"
	case BlacklistedAndShort:
		return "blacklisted_and_short"
	case OnlyExcluded:
		return "only_excluded"
	}
	return "unknown"
}

// Rejection classifies a query without included terms.
func (q *Query) Rejection() Rejection {
	switch {
	case len(q.Included) > 0:
		return NotRejected
	case q.emptyInput:
		return EmptyInput
	case q.FoundBlacklisted && len(q.IgnoredShortWords) > 0:
		return BlacklistedAndShort
	case q.FoundBlacklisted:
		return Blacklisted
	case len(q.IgnoredShortWords) > 0:
		return TooShort
	case len(q.Excluded) > 0:
		return OnlyExcluded
	}
	return EmptyInput
}

// Words lists the included words and the words of included phrases, for
// highlighting.
func (q *Query) Words() []string {
	var words []string
	for _, t := range q.Included {
		for _, w := range strings.Fields(t.Text) {
			if !slices.Contains(words, w) {
				words = append(words, w)
			}
		}
	}
	return words
}

type candidate struct {
	text     string
	phrase   bool
	excluded bool
}

// NormalizeBlacklist lower-cases and trims configured entries so they
// compare equal to parsed terms. Empty entries and duplicates are dropped.
func NormalizeBlacklist(words []string) []string {
	if words == nil {
		return nil
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && !slices.Contains(out, w) {
			out = append(out, w)
		}
	}
	return out
}

// Parse never fails: a query whose terms were all filtered out has an
// empty Included list and Rejection explains why.
func Parse(raw string, blacklist []string, simpleFulltext bool) *Query {
	q := &Query{Raw: raw, Included: []Term{}, Excluded: []Term{}}
	text := Normalize(raw)
	if simpleFulltext {
		text = strings.ReplaceAll(text, `"`, " ")
		text = strings.Join(strings.Fields(text), " ")
	}
	if text == "" {
		q.emptyInput = true
		return q
	}

	phrases, rest := scanPhrases(text)
	candidates := phrases
	for _, word := range strings.Fields(rest) {
		c := candidate{text: word}
		if strings.HasPrefix(word, "-") {
			c.text = word[1:]
			c.excluded = true
		}
		candidates = append(candidates, c)
	}

	var excluded []Term
	for _, c := range candidates {
		term := strings.Trim(c.text, trimChars)
		if c.phrase {
			term = strings.Join(strings.Fields(term), " ")
		}
		if term == "" {
			continue
		}
		if slices.Contains(blacklist, term) {
			if !c.excluded {
				q.FoundBlacklisted = true
			}
			continue
		}
		if utf8.RuneCountInString(term) < MinTermLength {
			if !c.excluded {
				q.IgnoredShortWords = append(q.IgnoredShortWords, term)
			}
			continue
		}
		t := Term{Text: term, Phrase: c.phrase}
		if c.excluded {
			excluded = appendUnique(excluded, t)
		} else {
			q.Included = appendUnique(q.Included, t)
		}
	}

	if len(excluded) > MaxTerms {
		excluded = excluded[:MaxTerms]
	}
	q.Excluded = append(q.Excluded, excluded...)
	q.Included = slices.DeleteFunc(q.Included, func(t Term) bool {
		return containsText(q.Excluded, t.Text)
	})
	if len(q.Included) > MaxTerms {
		q.Included = q.Included[:MaxTerms]
	}
	if len(q.Included) == 0 && len(q.Excluded) == 0 && !q.FoundBlacklisted && len(q.IgnoredShortWords) == 0 {
		q.emptyInput = true
	}
	return q
}

func appendUnique(terms []Term, t Term) []Term {
	if containsText(terms, t.Text) {
		return terms
	}
	return append(terms, t)
}

func containsText(terms []Term, text string) bool {
	return slices.ContainsFunc(terms, func(t Term) bool { return t.Text == text })
}

// Normalize decodes entities, lower-cases and collapses runs of delimiter
// characters into single spaces. Quotes and dashes survive because they
// carry phrase and exclusion markers.
func Normalize(raw string) string {
	decoded := strings.ToLower(html.UnescapeString(raw))
	return strings.Join(strings.FieldsFunc(decoded, isQueryDelimiter), " ")
}

func isQueryDelimiter(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsControl(r) {
		return true
	}
	return strings.ContainsRune("(){}[]<>!@$%^*.,:;+=`~?/\\|", r)
}

// scanPhrases extracts quoted phrases bounded by the start or end of text
// or a space. A dash directly before the opening quote, or a lone dash one
// space before it, excludes the phrase. It returns the phrases and the text
// with them blanked out.
func scanPhrases(text string) ([]candidate, string) {
	var phrases []candidate
	var rest strings.Builder
	last := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '"' {
			continue
		}
		start, excluded, ok := phraseStart(text, i)
		if !ok {
			continue
		}
		end := strings.IndexByte(text[i+1:], '"')
		if end <= 0 {
			continue
		}
		end += i + 1
		if end+1 < len(text) && text[end+1] != ' ' {
			continue
		}
		phrases = append(phrases, candidate{text: text[i+1 : end], phrase: true, excluded: excluded})
		rest.WriteString(text[last:start])
		rest.WriteByte(' ')
		last = end + 1
		i = end
	}
	rest.WriteString(text[last:])
	return phrases, rest.String()
}

// phraseStart checks the boundary left of an opening quote at i.
func phraseStart(text string, i int) (start int, excluded, ok bool) {
	atBoundary := func(j int) bool { return j == 0 || text[j-1] == ' ' }
	switch {
	case i == 0:
		return i, false, true
	case text[i-1] == '-' && atBoundary(i-1):
		return i - 1, true, true
	case text[i-1] == ' ' && i >= 2 && text[i-2] == '-' && atBoundary(i-2):
		return i - 2, true, true
	case text[i-1] == ' ':
		return i, false, true
	}
	return 0, false, false
}
