// Package backend defines the contract every search driver implements and
// the capability negotiation callers perform before issuing a query.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/parser"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

// Capability is one optional search feature.
type Capability uint32

const (
	CapSubjectOnly Capability = 1 << iota
	CapRelevanceSort
	CapPhrases
	CapMatchAny
	CapGroupByTopic
	CapMemberFilter
	CapDateFilter
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapSubjectOnly, "subject_only"},
	{CapRelevanceSort, "relevance_sort"},
	{CapPhrases, "phrases"},
	{CapMatchAny, "match_any"},
	{CapGroupByTopic, "group_by_topic"},
	{CapMemberFilter, "member_filter"},
	{CapDateFilter, "date_filter"},
}

// Capabilities is a set of Capability flags.
type Capabilities uint32

func NewCapabilities(caps ...Capability) Capabilities {
	var c Capabilities
	for _, cap := range caps {
		c |= Capabilities(cap)
	}
	return c
}

func (c Capabilities) Has(cap Capability) bool {
	return c&Capabilities(cap) == Capabilities(cap)
}

// Missing returns the members of want that c lacks.
func (c Capabilities) Missing(want Capabilities) Capabilities {
	return want &^ c
}

func (c Capabilities) Names() []string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.cap) {
			names = append(names, n.name)
		}
	}
	return names
}

func (c Capabilities) String() string {
	return strings.Join(c.Names(), ",")
}

// Sort orders results. Every order breaks ties by ascending message id.
type Sort string

const (
	SortRelevance Sort = "relevance"
	SortNewest    Sort = "newest"
	SortOldest    Sort = "oldest"
)

func ParseSort(s string) (Sort, error) {
	switch Sort(s) {
	case "":
		return SortNewest, nil
	case SortRelevance, SortNewest, SortOldest:
		return Sort(s), nil
	}
	return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown sort %q", s)
}

// Request is one search. TermSets, when set, replaces Query.Included with
// alternatives: a message matches if it matches every term of any set.
type Request struct {
	Query        *parser.Query
	TermSets     [][]parser.Term
	MatchAny     bool
	SubjectOnly  bool
	GroupByTopic bool
	Filter       messages.Filter
	Sort         Sort
	Offset       int
	Limit        int
}

// Sets returns the effective OR-of-ANDs term sets.
func (r Request) Sets() [][]parser.Term {
	if len(r.TermSets) > 0 {
		return r.TermSets
	}
	if r.Query == nil || len(r.Query.Included) == 0 {
		return nil
	}
	if r.MatchAny {
		sets := make([][]parser.Term, len(r.Query.Included))
		for i, t := range r.Query.Included {
			sets[i] = []parser.Term{t}
		}
		return sets
	}
	return [][]parser.Term{r.Query.Included}
}

// Excluded returns the terms no result may contain.
func (r Request) Excluded() []parser.Term {
	if r.Query == nil {
		return nil
	}
	return r.Query.Excluded
}

// Required lists the capabilities the request depends on.
func (r Request) Required() Capabilities {
	var c Capabilities
	if r.SubjectOnly {
		c |= Capabilities(CapSubjectOnly)
	}
	if r.Sort == SortRelevance {
		c |= Capabilities(CapRelevanceSort)
	}
	if r.MatchAny || len(r.TermSets) > 1 {
		c |= Capabilities(CapMatchAny)
	}
	if r.GroupByTopic {
		c |= Capabilities(CapGroupByTopic)
	}
	if len(r.Filter.MemberIDs) > 0 {
		c |= Capabilities(CapMemberFilter)
	}
	if !r.Filter.From.IsZero() || !r.Filter.To.IsZero() {
		c |= Capabilities(CapDateFilter)
	}
	for _, set := range r.Sets() {
		for _, t := range set {
			if t.Phrase {
				c |= Capabilities(CapPhrases)
			}
		}
	}
	for _, t := range r.Excluded() {
		if t.Phrase {
			c |= Capabilities(CapPhrases)
		}
	}
	return c
}

// Fingerprint identifies the ranked result list of r: the visible boards,
// the raw query, the effective term sets, the filters and the order. Paging
// is left out so one cached list serves every page.
func (r Request) Fingerprint() string {
	boards := slices.Clone(r.Filter.BoardIDs)
	slices.Sort(boards)
	members := slices.Clone(r.Filter.MemberIDs)
	slices.Sort(members)
	raw := ""
	if r.Query != nil {
		raw = r.Query.Raw
	}
	key := struct {
		Boards   []uint32        `json:"b"`
		Raw      string          `json:"q"`
		Sets     [][]parser.Term `json:"s"`
		Excluded []parser.Term   `json:"x"`
		Subject  bool            `json:"so"`
		Group    bool            `json:"g"`
		Members  []uint32        `json:"m"`
		Topic    uint32          `json:"t"`
		From     int64           `json:"f"`
		To       int64           `json:"u"`
		MinID    uint32          `json:"lo"`
		MaxID    uint32          `json:"hi"`
		Sort     Sort            `json:"o"`
	}{
		Boards:   boards,
		Raw:      raw,
		Sets:     r.Sets(),
		Excluded: r.Excluded(),
		Subject:  r.SubjectOnly,
		Group:    r.GroupByTopic,
		Members:  members,
		Topic:    r.Filter.TopicID,
		From:     unixOrZero(r.Filter.From),
		To:       unixOrZero(r.Filter.To),
		MinID:    r.Filter.MinID,
		MaxID:    r.Filter.MaxID,
		Sort:     r.Sort,
	}
	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Result is one matching message.
type Result struct {
	MessageID uint32  `json:"id_msg"`
	TopicID   uint32  `json:"id_topic"`
	Score     float64 `json:"relevance"`
	Matches   int     `json:"matches"`
}

// Results is one page of matches. An empty Items slice is a valid answer
// and distinct from a backend error.
type Results struct {
	Backend string   `json:"backend"`
	Total   int      `json:"total"`
	Items   []Result `json:"results"`
	Cached  bool     `json:"cached"`
}

// Backend is a search driver.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	// Ready returns nil when Execute can be served, or an error wrapping
	// ErrBackendUnavailable explaining why not.
	Ready(ctx context.Context) error
	// PrepareTerm renders a term in the backend's own vocabulary.
	PrepareTerm(t parser.Term) []string
	Execute(ctx context.Context, req Request) (*Results, error)
}

// Supports reports whether b offers cap.
func Supports(b Backend, cap Capability) bool {
	return b.Capabilities().Has(cap)
}

// IsReady is Ready as a boolean.
func IsReady(ctx context.Context, b Backend) bool {
	return b.Ready(ctx) == nil
}

// Check validates a request against b before Execute. Drivers call it
// first so an unsupported mode is never silently ignored.
func Check(b Backend, req Request) error {
	if missing := b.Capabilities().Missing(req.Required()); missing != 0 {
		return apperrors.Newf(apperrors.ErrUnsupported, http.StatusBadRequest,
			"%s backend does not support %s", b.Name(), missing)
	}
	if req.Limit < 0 || req.Offset < 0 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "negative offset or limit")
	}
	return nil
}

// Page slices a fully ranked list.
func Page(items []Result, offset, limit int) []Result {
	if offset >= len(items) {
		return []Result{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

// Registry maps backend names to drivers.
type Registry map[string]Backend

// Select resolves the configured backend. "none" means search is disabled.
func (r Registry) Select(name string) (Backend, error) {
	if name == "" || name == "none" {
		return nil, apperrors.New(apperrors.ErrBackendUnavailable, http.StatusServiceUnavailable, "search is disabled")
	}
	b, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown search backend %q", apperrors.ErrInvalidInput, name)
	}
	return b, nil
}
