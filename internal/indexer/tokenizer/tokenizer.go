// Package tokenizer splits message text into normalised word tokens. It
// lower-cases input, splits on non-word boundaries, trims joiner characters,
// drops words shorter than MinWordLength and, for indexing, maps every word
// to a numeric word id.
package tokenizer

import (
	"fmt"
	"html"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

// MinWordLength is the shortest word, in characters, that is ever indexed
// or searched for.
const MinWordLength = 2

// trimChars may appear inside a word ("don't", "e-mail", "snake_case") but
// never at its edges.
const trimChars = "-_'"

var lineBreaks = strings.NewReplacer("<br>", " ", "<br />", " ", "<br/>", " ")

// WordSize controls how many distinct word ids the index can hold. Smaller
// sizes make the word_id column narrower at the price of more words sharing
// an id.
type WordSize struct {
	Name      string `json:"name"`
	MaxWordID uint32 `json:"max_word_id"`
	// PruneStep is the width of the word-id range examined per query while
	// looking for stop words.
	PruneStep uint32 `json:"prune_step"`
}

var (
	Small  = WordSize{Name: "small", MaxWordID: 65535, PruneStep: 5000}
	Medium = WordSize{Name: "medium", MaxWordID: 16777215, PruneStep: 500000}
	Large  = WordSize{Name: "large", MaxWordID: 2147483647, PruneStep: 50000000}
)

// ParseWordSize resolves a configured size name.
func ParseWordSize(name string) (WordSize, error) {
	switch name {
	case Small.Name:
		return Small, nil
	case Medium.Name:
		return Medium, nil
	case Large.Name:
		return Large, nil
	default:
		return WordSize{}, fmt.Errorf("unknown word size %q", name)
	}
}

// Token is one normalised word. ID is only set when tokenizing for indexing.
type Token struct {
	Text string
	ID   uint32
}

// Tokenizer is safe for concurrent use; it holds no mutable state.
type Tokenizer struct {
	size WordSize
}

// New returns a Tokenizer producing word ids in [1, size.MaxWordID].
func New(size WordSize) *Tokenizer {
	return &Tokenizer{size: size}
}

var defaultTokenizer = New(Medium)

// Tokenize is Tokenizer.Tokenize with Medium word ids.
func Tokenize(text string, maxBytesPerWord int, forIndexing bool) iter.Seq[Token] {
	return defaultTokenizer.Tokenize(text, maxBytesPerWord, forIndexing)
}

// Size reports the word size the tokenizer maps ids into.
func (t *Tokenizer) Size() WordSize {
	return t.size
}

// Tokenize yields the words of text in order. maxBytesPerWord > 0 truncates
// each word to at most that many bytes without splitting a code point.
// With forIndexing set every token carries its word id. The sequence is
// pure and may be ranged over any number of times.
func (t *Tokenizer) Tokenize(text string, maxBytesPerWord int, forIndexing bool) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		normalized := strings.ToLower(html.UnescapeString(lineBreaks.Replace(text)))
		for field := range strings.FieldsFuncSeq(normalized, isDelimiter) {
			word := normalizeWord(field, maxBytesPerWord)
			if word == "" {
				continue
			}
			tok := Token{Text: word}
			if forIndexing {
				tok.ID = t.WordID(word)
			}
			if !yield(tok) {
				return
			}
		}
	}
}

// Words collects the token texts of text.
func (t *Tokenizer) Words(text string, maxBytesPerWord int) []string {
	var words []string
	for tok := range t.Tokenize(text, maxBytesPerWord, false) {
		words = append(words, tok.Text)
	}
	return words
}

// IDs returns the distinct word ids of text in first-seen order.
func (t *Tokenizer) IDs(text string) []uint32 {
	seen := make(map[uint32]struct{})
	var ids []uint32
	for tok := range t.Tokenize(text, 0, true) {
		if _, dup := seen[tok.ID]; dup {
			continue
		}
		seen[tok.ID] = struct{}{}
		ids = append(ids, tok.ID)
	}
	return ids
}

// WordID hashes a normalised word into [1, MaxWordID]. Distinct words may
// share an id; lookups then over-match and callers that need exactness
// verify against the message text.
func (t *Tokenizer) WordID(word string) uint32 {
	return uint32(xxhash.Sum64String(word)%uint64(t.size.MaxWordID)) + 1
}

func normalizeWord(word string, maxBytes int) string {
	word = strings.Trim(word, trimChars)
	if maxBytes > 0 && len(word) > maxBytes {
		word = strings.Trim(TruncateBytes(word, maxBytes), trimChars)
	}
	if utf8.RuneCountInString(word) < MinWordLength {
		return ""
	}
	return word
}

// TruncateBytes cuts s to at most n bytes, backing off to the previous code
// point boundary.
func TruncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isDelimiter(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) {
		return false
	}
	return !strings.ContainsRune(trimChars, r)
}
