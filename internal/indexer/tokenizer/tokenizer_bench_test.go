package tokenizer

import (
	"fmt"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `[quote author=admin]Please read the forum rules before posting.[/quote]
        I have been running this board for years and the search index keeps growing.
        Would a smaller word size help? The rebuild takes a few minutes each time and
        the stop-word pass removes the usual suspects like "the" and "and".`,
	"long": strings.Repeat(`Information retrieval on a busy forum means tokenizing every
        message body, hashing each word into a compact id and writing word/message
        pairs into an inverted index. Common words are pruned once they appear in
        most messages, which keeps the index small and intersections cheap. `, 20),
}

func BenchmarkTokenize(b *testing.B) {
	tok := New(Medium)
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				for range tok.Tokenize(text, 0, true) {
				}
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	tok := New(Medium)
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for range tok.Tokenize(text, 0, true) {
			}
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	tok := New(Medium)
	sizes := []int{10, 100, 500, 1000, 5000}
	baseWord := "forum search index rebuild stopword "
	for _, size := range sizes {
		text := strings.Repeat(baseWord, size/len(baseWord)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				for range tok.Tokenize(text, 0, true) {
				}
			}
		})
	}
}
