package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// IndexStore keeps index entries in the search_words table.
type IndexStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewIndexStore(db *postgres.Client) *IndexStore {
	return &IndexStore{
		db:     db,
		logger: slog.Default().With("component", "pg-index-store"),
	}
}

var _ index.Store = (*IndexStore)(nil)

// Insert bulk-loads entries with a single unnest statement.
func (s *IndexStore) Insert(ctx context.Context, entries []index.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	words := make([]int64, len(entries))
	msgs := make([]int64, len(entries))
	for i, e := range entries {
		words[i] = int64(e.WordID)
		msgs[i] = int64(e.MessageID)
	}
	result, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO search_words (id_word, id_msg)
		 SELECT * FROM unnest($1::bigint[], $2::bigint[])
		 ON CONFLICT DO NOTHING`,
		pq.Array(words), pq.Array(msgs),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting %d index entries: %w", len(entries), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *IndexStore) Clear(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, `TRUNCATE search_words`); err != nil {
		return fmt.Errorf("clearing index: %w", err)
	}
	return nil
}

func (s *IndexStore) Lookup(ctx context.Context, wordID uint32) (*roaring.Bitmap, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id_msg FROM search_words WHERE id_word = $1`, int64(wordID))
	if err != nil {
		return nil, fmt.Errorf("looking up word %d: %w", wordID, err)
	}
	defer rows.Close()
	bm := roaring.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		bm.Add(uint32(id))
	}
	return bm, rows.Err()
}

func (s *IndexStore) CountWords(ctx context.Context, from, to uint32) ([]index.WordCount, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id_word, COUNT(id_msg)
		 FROM search_words
		 WHERE id_word >= $1 AND id_word < $2
		 GROUP BY id_word
		 ORDER BY id_word`,
		int64(from), int64(to),
	)
	if err != nil {
		return nil, fmt.Errorf("counting words in [%d, %d): %w", from, to, err)
	}
	defer rows.Close()
	var counts []index.WordCount
	for rows.Next() {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scanning word count: %w", err)
		}
		counts = append(counts, index.WordCount{WordID: uint32(id), Messages: uint64(n)})
	}
	return counts, rows.Err()
}

func (s *IndexStore) DeleteWords(ctx context.Context, wordIDs []uint32) (int64, error) {
	if len(wordIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM search_words WHERE id_word = ANY($1)`, pq.Array(toInt64s(wordIDs)))
	if err != nil {
		return 0, fmt.Errorf("deleting %d words: %w", len(wordIDs), err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *IndexStore) RemoveMessage(ctx context.Context, messageID uint32) error {
	if _, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM search_words WHERE id_msg = $1`, int64(messageID)); err != nil {
		return fmt.Errorf("removing message %d from index: %w", messageID, err)
	}
	return nil
}

func (s *IndexStore) Size(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_words`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting index entries: %w", err)
	}
	return n, nil
}
