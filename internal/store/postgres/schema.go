// Package postgres implements the message, index and settings stores on
// PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// Schema creates the tables the stores expect. The messages and topics
// tables normally belong to the forum; creating them is a no-op there.
const Schema = `
CREATE TABLE IF NOT EXISTS topics (
    id_topic     BIGINT PRIMARY KEY,
    id_first_msg BIGINT NOT NULL DEFAULT 0,
    num_replies  INT NOT NULL DEFAULT 0,
    is_sticky    BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS messages (
    id_msg      BIGINT PRIMARY KEY,
    id_topic    BIGINT NOT NULL DEFAULT 0,
    id_board    BIGINT NOT NULL DEFAULT 0,
    id_member   BIGINT NOT NULL DEFAULT 0,
    poster_time BIGINT NOT NULL DEFAULT 0,
    subject     TEXT NOT NULL DEFAULT '',
    body        TEXT NOT NULL DEFAULT '',
    likes       INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS search_words (
    id_word BIGINT NOT NULL,
    id_msg  BIGINT NOT NULL,
    PRIMARY KEY (id_word, id_msg)
);
CREATE INDEX IF NOT EXISTS search_words_msg_idx ON search_words (id_msg);
CREATE TABLE IF NOT EXISTS search_settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

func Migrate(ctx context.Context, db *postgres.Client) error {
	if err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrating search schema: %w", err)
	}
	return nil
}

func toInt64s(ids []uint32) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
