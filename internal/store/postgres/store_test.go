package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

func TestBuildFetchQuery(t *testing.T) {
	query, args := buildFetchQuery([]uint32{1, 2}, messages.Filter{
		BoardIDs: []uint32{3},
		TopicID:  9,
		From:     time.Unix(100, 0),
	})
	assert.Contains(t, query, "m.id_msg = ANY($1)")
	assert.Contains(t, query, "m.id_board = ANY($2)")
	assert.Contains(t, query, "m.id_topic = $3")
	assert.Contains(t, query, "m.poster_time >= $4")
	assert.NotContains(t, query, "$5")
	assert.Len(t, args, 4)
	assert.Equal(t, int64(100), args[3])
}

// skipIfNoPostgres connects to SP_TEST_POSTGRES_HOST or skips.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	host := os.Getenv("SP_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("SP_TEST_POSTGRES_HOST not set")
	}
	cfg := config.PostgresConfig{
		Host: host, Port: 5432, Database: "forum_search_test",
		User: "postgres", Password: os.Getenv("SP_TEST_POSTGRES_PASSWORD"), SSLMode: "disable",
		MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	require.NoError(t, Migrate(ctx, db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIndexStoreIntegration(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	s := NewIndexStore(db)
	require.NoError(t, s.Clear(ctx))

	n, err := s.Insert(ctx, []index.Entry{{WordID: 1, MessageID: 10}, {WordID: 1, MessageID: 11}, {WordID: 2, MessageID: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = s.Insert(ctx, []index.Entry{{WordID: 1, MessageID: 10}})
	require.NoError(t, err)
	assert.Zero(t, n)

	bm, err := s.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint32{10, 11}, bm.ToArray())

	counts, err := s.CountWords(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []index.WordCount{{WordID: 1, Messages: 2}, {WordID: 2, Messages: 1}}, counts)

	removed, err := s.DeleteWords(ctx, []uint32{1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	require.NoError(t, s.RemoveMessage(ctx, 10))
	size, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestSettingsStoreIntegration(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	s := NewSettingsStore(db)
	require.NoError(t, s.Delete(ctx, settings.KeyResumeCursor, settings.KeyResumePhase))

	require.NoError(t, s.SetMany(ctx, map[string]string{
		settings.KeyResumeCursor: "5",
		settings.KeyResumePhase:  "pruning",
	}))
	require.NoError(t, s.Set(ctx, settings.KeyResumeCursor, "6"))
	v, ok, err := s.Get(ctx, settings.KeyResumeCursor)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "6", v)

	require.NoError(t, s.Delete(ctx, settings.KeyResumeCursor))
	_, ok, err = s.Get(ctx, settings.KeyResumeCursor)
	require.NoError(t, err)
	assert.False(t, ok)
}
