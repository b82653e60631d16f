// Package relevance implements the weighted ranking formula shared by the
// external search backend and the daemon configuration it is deployed with.
//
// Every component is scaled to 0..100:
//
//	age    message id position within [min id, max id]
//	length topic replies, capped at 50
//	first  the message opens its topic
//	sticky the topic is pinned
//	likes  message likes, capped at 10
//
// The score is the weighted mean of the components. SQL renders the same
// computation, in the same operation order, as an SQL expression.
package relevance

import (
	"fmt"
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
)

const (
	MaxReplies = 50
	MaxLikes   = 10
)

// Weights are the integer weights of the five components.
type Weights struct {
	Age          int `json:"age"`
	Length       int `json:"length"`
	FirstMessage int `json:"first_message"`
	Sticky       int `json:"sticky"`
	Likes        int `json:"likes"`
}

// DefaultWeights apply when the configured weights sum to zero.
var DefaultWeights = Weights{Age: 25, Length: 25, FirstMessage: 25, Sticky: 15, Likes: 10}

func FromConfig(c config.RelevanceWeights) Weights {
	return Weights{
		Age:          c.Age,
		Length:       c.Length,
		FirstMessage: c.FirstMessage,
		Sticky:       c.Sticky,
		Likes:        c.Likes,
	}
}

func (w Weights) Total() int {
	return w.Age + w.Length + w.FirstMessage + w.Sticky + w.Likes
}

// Normalize clamps negative weights to zero and falls back to
// DefaultWeights when nothing is left.
func (w Weights) Normalize() Weights {
	w.Age = max(w.Age, 0)
	w.Length = max(w.Length, 0)
	w.FirstMessage = max(w.FirstMessage, 0)
	w.Sticky = max(w.Sticky, 0)
	w.Likes = max(w.Likes, 0)
	if w.Total() == 0 {
		return DefaultWeights
	}
	return w
}

// Attributes are the message properties the formula reads.
type Attributes struct {
	MessageID    uint32
	MinMessageID uint32
	MaxMessageID uint32
	Replies      int
	Likes        int
	FirstMessage bool
	Sticky       bool
}

func ageFraction(a Attributes) float64 {
	if a.MaxMessageID <= a.MinMessageID {
		return 1
	}
	return float64(int64(a.MessageID)-int64(a.MinMessageID)) / float64(int64(a.MaxMessageID)-int64(a.MinMessageID))
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Score returns the weighted relevance in 0..100.
func Score(a Attributes, w Weights) float64 {
	w = w.Normalize()
	sum := (100*ageFraction(a))*float64(w.Age) +
		(100*(float64(min(a.Replies, MaxReplies))/MaxReplies))*float64(w.Length) +
		float64(100*flag(a.FirstMessage)*w.FirstMessage) +
		float64(100*flag(a.Sticky)*w.Sticky) +
		(100*(float64(min(a.Likes, MaxLikes))/MaxLikes))*float64(w.Likes)
	return sum / float64(w.Total())
}

// Relevance is Score with two decimals kept as an integer in 0..10000, the
// form stored as a daemon attribute.
func Relevance(a Attributes, w Weights) int {
	return int(math.Round(Score(a, w) * 100))
}

// Columns names the SQL expressions the formula reads. FirstMessage and
// Sticky must be boolean expressions.
type Columns struct {
	MessageID    string
	Replies      string
	Likes        string
	FirstMessage string
	Sticky       string
	MinMessageID string
	MaxMessageID string
}

// SQL renders Relevance as an expression valid in SQLite, PostgreSQL and
// MySQL. Weights are inlined as constants.
func SQL(c Columns, w Weights) string {
	w = w.Normalize()
	age := fmt.Sprintf("(CASE WHEN %[3]s <= %[2]s THEN 1.0 ELSE (%[1]s - %[2]s) * 1.0 / (%[3]s - %[2]s) END)",
		c.MessageID, c.MinMessageID, c.MaxMessageID)
	length := fmt.Sprintf("((CASE WHEN %[1]s > %[2]d THEN %[2]d ELSE %[1]s END) * 1.0 / %[2]d)", c.Replies, MaxReplies)
	likes := fmt.Sprintf("((CASE WHEN %[1]s > %[2]d THEN %[2]d ELSE %[1]s END) * 1.0 / %[2]d)", c.Likes, MaxLikes)
	first := fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END)", c.FirstMessage)
	sticky := fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END)", c.Sticky)

	terms := []string{
		fmt.Sprintf("(100 * %s) * %d", age, w.Age),
		fmt.Sprintf("(100 * %s) * %d", length, w.Length),
		fmt.Sprintf("(100 * %s * %d)", first, w.FirstMessage),
		fmt.Sprintf("(100 * %s * %d)", sticky, w.Sticky),
		fmt.Sprintf("(100 * %s) * %d", likes, w.Likes),
	}
	return fmt.Sprintf("ROUND((%s) / %d * 100)", strings.Join(terms, " + "), w.Total())
}
