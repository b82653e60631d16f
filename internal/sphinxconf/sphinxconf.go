// Package sphinxconf renders the configuration file of the external search
// daemon: the PostgreSQL source, the index schema and the searchd section.
// The source query embeds the relevance expression so the daemon stores the
// same score the query path computes.
package sphinxconf

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
)

// Fields and attributes of the generated index. The document id is the
// message id.
const (
	FieldSubject = "subject"
	FieldBody    = "body"

	AttrTopic     = "id_topic"
	AttrBoard     = "id_board"
	AttrMember    = "id_member"
	AttrPosted    = "poster_time"
	AttrReplies   = "replies"
	AttrLikes     = "likes"
	AttrFirst     = "is_first"
	AttrSticky    = "is_sticky"
	AttrMinMsg    = "min_msg"
	AttrMaxMsg    = "max_msg"
	AttrRelevance = "relevance"
)

const DefaultRangeStep = 1000

// SourceColumns maps the relevance inputs onto the source query aliases.
var SourceColumns = relevance.Columns{
	MessageID:    "m.id_msg",
	Replies:      "COALESCE(t.num_replies, 0)",
	Likes:        "m.likes",
	FirstMessage: "t.id_first_msg = m.id_msg",
	Sticky:       "COALESCE(t.is_sticky, FALSE)",
	MinMessageID: "b.min_msg",
	MaxMessageID: "b.max_msg",
}

// Params is everything the emitted file depends on.
type Params struct {
	Index      string
	Listen     string
	DataPath   string
	LogPath    string
	PidFile    string
	MemLimit   string
	MaxMatches int
	RangeStep  int
	Source     config.PostgresConfig
	Weights    relevance.Weights
}

func FromConfig(cfg *config.Config) Params {
	return Params{
		Index:      cfg.Sphinx.Index,
		Listen:     cfg.Sphinx.Addr,
		DataPath:   cfg.Sphinx.DataPath,
		LogPath:    cfg.Sphinx.LogPath,
		PidFile:    cfg.Sphinx.PidFile,
		MemLimit:   cfg.Sphinx.MemLimit,
		MaxMatches: cfg.Sphinx.MaxMatches,
		Source:     cfg.Postgres,
		Weights:    relevance.FromConfig(cfg.Sphinx.Weights),
	}
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIndexName reports whether name can be used unquoted in SphinxQL.
func ValidIndexName(name string) bool {
	return identifier.MatchString(name)
}

// SourceQuery returns the lines of the ranged source query, one SQL clause
// per line.
func SourceQuery(w relevance.Weights) []string {
	return []string{
		"SELECT m.id_msg, m.id_topic, m.id_board, m.id_member, m.poster_time, m.subject, m.body,",
		"COALESCE(t.num_replies, 0) AS replies, m.likes,",
		"CASE WHEN t.id_first_msg = m.id_msg THEN 1 ELSE 0 END AS is_first,",
		"CASE WHEN COALESCE(t.is_sticky, FALSE) THEN 1 ELSE 0 END AS is_sticky,",
		"b.min_msg, b.max_msg,",
		relevance.SQL(SourceColumns, w) + " AS relevance",
		"FROM messages AS m",
		"LEFT JOIN topics AS t ON t.id_topic = m.id_topic",
		"CROSS JOIN (SELECT MIN(id_msg) AS min_msg, MAX(id_msg) AS max_msg FROM messages) AS b",
		"WHERE m.id_msg >= $start AND m.id_msg <= $end",
	}
}

var confTemplate = template.Must(template.New("sphinx.conf").Parse(`#
# Search daemon configuration for the {{.Index}} index.
# Relevance weights: age={{.Weights.Age}} length={{.Weights.Length}} first_message={{.Weights.FirstMessage}} sticky={{.Weights.Sticky}} likes={{.Weights.Likes}} (total {{.Weights.Total}})
# Regenerate and reindex after changing any weight.
#

source {{.Index}}_source
{
	type = pgsql
	sql_host = {{.Source.Host}}
	sql_port = {{.Source.Port}}
	sql_user = {{.Source.User}}
	sql_pass = {{.Source.Password}}
	sql_db = {{.Source.Database}}

	sql_query_pre = SET client_encoding TO 'UTF8'
	sql_query_range = SELECT MIN(id_msg), MAX(id_msg) FROM messages
	sql_range_step = {{.RangeStep}}
	sql_query = \
{{.Query}}

	sql_attr_uint = id_topic
	sql_attr_uint = id_board
	sql_attr_uint = id_member
	sql_attr_timestamp = poster_time
	sql_attr_uint = replies
	sql_attr_uint = likes
	sql_attr_bool = is_first
	sql_attr_bool = is_sticky
	sql_attr_uint = min_msg
	sql_attr_uint = max_msg
	sql_attr_uint = relevance
}

index {{.Index}}
{
	source = {{.Index}}_source
	path = {{.DataPath}}/{{.Index}}
	min_word_len = 2
	html_strip = 1
	stopwords_unstemmed = 1
}

indexer
{
	mem_limit = {{.MemLimit}}
}

searchd
{
	listen = {{.Listen}}:mysql41
	log = {{.LogPath}}/searchd.log
	query_log = {{.LogPath}}/query.log
	pid_file = {{.PidFile}}
	max_matches = {{.MaxMatches}}
	read_timeout = 5
	seamless_rotate = 1
	preopen_indexes = 1
	unlink_old = 1
}
`))

// Emit renders the daemon configuration. The output is a pure function of
// p: equal parameters give byte-identical files.
func Emit(p Params) ([]byte, error) {
	if !ValidIndexName(p.Index) {
		return nil, fmt.Errorf("invalid index name %q", p.Index)
	}
	required := []struct{ name, value string }{
		{"listen address", p.Listen},
		{"data path", p.DataPath},
		{"log path", p.LogPath},
		{"pid file", p.PidFile},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return nil, fmt.Errorf("sphinx %s is empty", r.name)
		}
	}
	if p.MemLimit == "" {
		p.MemLimit = "128M"
	}
	if p.MaxMatches <= 0 {
		p.MaxMatches = 1000
	}
	if p.RangeStep <= 0 {
		p.RangeStep = DefaultRangeStep
	}
	p.Weights = p.Weights.Normalize()
	p.DataPath = strings.TrimRight(p.DataPath, "/")
	p.LogPath = strings.TrimRight(p.LogPath, "/")

	lines := SourceQuery(p.Weights)
	for i := range lines {
		lines[i] = "\t\t" + lines[i]
		if i < len(lines)-1 {
			lines[i] += " \\"
		}
	}
	data := struct {
		Params
		Query string
	}{Params: p, Query: strings.Join(lines, "\n")}

	var buf bytes.Buffer
	if err := confTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering sphinx config: %w", err)
	}
	return buf.Bytes(), nil
}
