package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(texts ...string) []Term {
	terms := make([]Term, len(texts))
	for i, t := range texts {
		terms[i] = Term{Text: t, Phrase: strings.Contains(t, " ")}
	}
	return terms
}

func TestParseExamples(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		included []Term
		excluded []Term
	}{
		{"plain words", "Hello world", words("hello", "world"), []Term{}},
		{"phrase and excluded word", `"quick fox" -jumps`, words("quick fox"), words("jumps")},
		{"excluded phrase", `-"lazy dog" quick`, words("quick"), words("lazy dog")},
		{"excluded phrase with space", `quick - "lazy dog"`, words("quick"), words("lazy dog")},
		{"dash attached elsewhere", `quick x- "lazy dog"`, words("lazy dog", "quick"), []Term{}},
		{"entities and punctuation", "Fish &amp; chips, (cheap)!", words("fish", "chips", "cheap"), []Term{}},
		{"duplicates", "Cats cats CATS dogs", words("cats", "dogs"), []Term{}},
		{"exclusion wins", "cats -cats dogs", words("dogs"), words("cats")},
		{"trimmed", "'quoted' _under_ -dash-", words("quoted", "under"), words("dash")},
		{"adjacent phrases", `"red car" "blue boat"`, words("red car", "blue boat"), []Term{}},
		{"unterminated quote", `"open phrase`, words("open", "phrase"), []Term{}},
		{"single word phrase", `"fox"`, []Term{{Text: "fox", Phrase: true}}, []Term{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := Parse(tt.input, DefaultBlacklist, false)
			assert.Equal(t, tt.included, q.Included)
			assert.Equal(t, tt.excluded, q.Excluded)
		})
	}
}

func TestParseBlacklistedOnly(t *testing.T) {
	q := Parse("the is a", DefaultBlacklist, false)
	assert.Empty(t, q.Included)
	assert.True(t, q.FoundBlacklisted)
	assert.Equal(t, []string{"a"}, q.IgnoredShortWords)
	assert.Equal(t, BlacklistedAndShort, q.Rejection())

	q = Parse("the is", DefaultBlacklist, false)
	assert.Equal(t, Blacklisted, q.Rejection())
}

func TestNormalizeBlacklist(t *testing.T) {
	assert.Equal(t, []string{"the", "img"}, NormalizeBlacklist([]string{"The", " IMG ", "", "the"}))
	assert.Nil(t, NormalizeBlacklist(nil))

	q := Parse("The kernel", NormalizeBlacklist([]string{"THE"}), false)
	assert.True(t, q.FoundBlacklisted)
	assert.Equal(t, []string{"kernel"}, q.Words())
}

func TestParseShortWords(t *testing.T) {
	q := Parse("ab a", DefaultBlacklist, false)
	assert.Equal(t, words("ab"), q.Included)
	assert.Equal(t, []string{"a"}, q.IgnoredShortWords)
	assert.False(t, q.FoundBlacklisted)
	assert.Equal(t, NotRejected, q.Rejection())

	q = Parse("a b", DefaultBlacklist, false)
	assert.Equal(t, TooShort, q.Rejection())
}

func TestParseRejections(t *testing.T) {
	assert.Equal(t, EmptyInput, Parse("", DefaultBlacklist, false).Rejection())
	assert.Equal(t, EmptyInput, Parse("  ?!  ... ", DefaultBlacklist, false).Rejection())
	assert.Equal(t, EmptyInput, Parse(`"" -- ''`, DefaultBlacklist, false).Rejection())
	assert.Equal(t, OnlyExcluded, Parse("-spam", DefaultBlacklist, false).Rejection())
	assert.Equal(t, "blacklisted_and_short", BlacklistedAndShort.String())
}

func TestParseExcludedBlacklistedAndShortDropped(t *testing.T) {
	q := Parse("cats -the -a", DefaultBlacklist, false)
	assert.Equal(t, words("cats"), q.Included)
	assert.Empty(t, q.Excluded)
	assert.False(t, q.FoundBlacklisted)
	assert.Empty(t, q.IgnoredShortWords)
}

func TestParseCapsTerms(t *testing.T) {
	var in, want []string
	for i := 0; i < 15; i++ {
		w := fmt.Sprintf("word%02d", i)
		in = append(in, w)
		if i < MaxTerms {
			want = append(want, w)
		}
	}
	q := Parse(strings.Join(in, " "), DefaultBlacklist, false)
	require.Len(t, q.Included, MaxTerms)
	assert.Equal(t, words(want...), q.Included)

	q = Parse("keep -"+strings.Join(in, " -"), DefaultBlacklist, false)
	assert.Len(t, q.Excluded, MaxTerms)
	assert.Equal(t, words("keep"), q.Included)
}

func TestParseSimpleFulltext(t *testing.T) {
	q := Parse(`"quick fox" -jumps`, DefaultBlacklist, true)
	assert.Equal(t, words("quick", "fox"), q.Included)
	assert.Equal(t, words("jumps"), q.Excluded)
}

func TestParseInvariants(t *testing.T) {
	inputs := []string{
		`"a b" -"a b" a b c`,
		`Mixed CASE -Mixed "Case words" -'case'`,
		strings.Repeat("term -term ", 20),
	}
	for _, in := range inputs {
		q := Parse(in, DefaultBlacklist, false)
		assert.LessOrEqual(t, len(q.Included), MaxTerms)
		for _, inc := range q.Included {
			assert.False(t, containsText(q.Excluded, inc.Text), "%q in both lists", inc.Text)
			assert.Equal(t, strings.ToLower(inc.Text), inc.Text)
			assert.Equal(t, strings.Trim(inc.Text, trimChars), inc.Text)
		}
	}
}

func TestQueryWords(t *testing.T) {
	q := Parse(`"quick fox" fox jumps`, DefaultBlacklist, false)
	assert.Equal(t, []string{"quick", "fox", "jumps"}, q.Words())
}
