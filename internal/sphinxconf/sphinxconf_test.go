package sphinxconf

import (
	"database/sql"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/relevance"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
)

func testParams() Params {
	return Params{
		Index:      "forum_index",
		Listen:     "127.0.0.1:9306",
		DataPath:   "/var/lib/sphinx/data/",
		LogPath:    "/var/log/sphinx",
		PidFile:    "/var/run/sphinx/searchd.pid",
		MaxMatches: 500,
		Source: config.PostgresConfig{
			Host: "db", Port: 5432, User: "forum", Password: "secret", Database: "forum",
		},
		Weights: relevance.DefaultWeights,
	}
}

// directive returns the value of a possibly multi-line directive with the
// continuation markers removed.
func directive(conf, name string) string {
	lines := strings.Split(conf, "\n")
	for i, line := range lines {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok || strings.TrimSpace(key) != name {
			continue
		}
		parts := []string{strings.TrimSpace(value)}
		for strings.HasSuffix(parts[len(parts)-1], `\`) && i+1 < len(lines) {
			last := strings.TrimSuffix(parts[len(parts)-1], `\`)
			parts[len(parts)-1] = strings.TrimSpace(last)
			i++
			parts = append(parts, strings.TrimSpace(lines[i]))
		}
		return strings.TrimSpace(strings.Join(parts, " "))
	}
	return ""
}

func TestEmitIsByteStable(t *testing.T) {
	a, err := Emit(testParams())
	require.NoError(t, err)
	b, err := Emit(testParams())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	p := testParams()
	p.Weights.Sticky = 40
	c, err := Emit(p)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestEmitContents(t *testing.T) {
	out, err := Emit(testParams())
	require.NoError(t, err)
	conf := string(out)

	assert.Equal(t, "forum_index_source", directive(conf, "source"))
	assert.Equal(t, "/var/lib/sphinx/data/forum_index", directive(conf, "path"))
	assert.Equal(t, "127.0.0.1:9306:mysql41", directive(conf, "listen"))
	assert.Equal(t, "500", directive(conf, "max_matches"))
	assert.Equal(t, "128M", directive(conf, "mem_limit"))
	assert.Equal(t, "pgsql", directive(conf, "type"))
	assert.Contains(t, conf, "sql_attr_uint = relevance")
	assert.Contains(t, conf, "total 100")

	query := directive(conf, "sql_query")
	assert.Contains(t, query, relevance.SQL(SourceColumns, relevance.DefaultWeights)+" AS relevance")
	assert.True(t, strings.HasSuffix(query, "WHERE m.id_msg >= $start AND m.id_msg <= $end"), query)
}

func TestEmitNormalizesWeights(t *testing.T) {
	p := testParams()
	p.Weights = relevance.Weights{}
	out, err := Emit(p)
	require.NoError(t, err)
	assert.Contains(t, directive(string(out), "sql_query"), relevance.SQL(SourceColumns, relevance.DefaultWeights))
}

func TestEmitRejectsBadParams(t *testing.T) {
	p := testParams()
	p.Index = "forum index; DROP"
	_, err := Emit(p)
	assert.Error(t, err)

	p = testParams()
	p.LogPath = " "
	_, err = Emit(p)
	assert.ErrorContains(t, err, "log path")
}

func TestFromConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	p := FromConfig(cfg)
	assert.Equal(t, cfg.Sphinx.Index, p.Index)
	assert.Equal(t, relevance.DefaultWeights, p.Weights)
	_, err = Emit(p)
	assert.NoError(t, err)
}

// TestSourceQueryMatchesInProcessScore runs the emitted source query in
// SQLite and compares the stored relevance attribute with the score the
// query path computes from the other attributes.
func TestSourceQueryMatchesInProcessScore(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE topics (id_topic INTEGER PRIMARY KEY, id_first_msg INTEGER, num_replies INTEGER, is_sticky INTEGER);
		CREATE TABLE messages (id_msg INTEGER PRIMARY KEY, id_topic INTEGER, id_board INTEGER, id_member INTEGER,
			poster_time INTEGER, subject TEXT, body TEXT, likes INTEGER);
		INSERT INTO topics VALUES (1, 10, 3, 0), (2, 13, 75, 1), (3, 40, 49, 0);
		INSERT INTO messages VALUES
			(10, 1, 1, 5, 1000, 'hello', 'first post', 0),
			(11, 1, 1, 6, 1100, 're: hello', 'reply', 4),
			(13, 2, 2, 5, 1200, 'pinned', 'rules', 25),
			(17, 2, 2, 7, 1300, 're: pinned', 'ok', 10),
			(29, 9, 1, 7, 1400, 'orphan', 'no topic row', 1),
			(40, 3, 3, 8, 1500, 'latest', 'newest message', 9);`)
	require.NoError(t, err)

	weightSets := []relevance.Weights{
		relevance.DefaultWeights,
		{Age: 7, Length: 3, FirstMessage: 1, Sticky: 0, Likes: 9},
		{Sticky: 1},
	}
	for _, w := range weightSets {
		p := testParams()
		p.Weights = w
		out, err := Emit(p)
		require.NoError(t, err)
		query := directive(string(out), "sql_query")
		query = strings.NewReplacer("$start", "0", "$end", "1000000").Replace(query)

		rows, err := db.Query(query)
		require.NoError(t, err)
		n := 0
		for rows.Next() {
			var (
				id, topic, board, member, posted uint32
				subject, body                    string
				a                                relevance.Attributes
				stored                           float64
			)
			require.NoError(t, rows.Scan(&id, &topic, &board, &member, &posted, &subject, &body,
				&a.Replies, &a.Likes, &a.FirstMessage, &a.Sticky, &a.MinMessageID, &a.MaxMessageID, &stored))
			a.MessageID = id
			assert.Equal(t, relevance.Relevance(a, w), int(stored), "weights %+v message %d", w, id)
			n++
		}
		require.NoError(t, rows.Err())
		rows.Close()
		assert.Equal(t, 6, n)
	}
}
