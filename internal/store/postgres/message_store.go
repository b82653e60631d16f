package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/messages"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// MessageStore reads forum messages joined with their topic counters.
type MessageStore struct {
	db *postgres.Client
}

func NewMessageStore(db *postgres.Client) *MessageStore {
	return &MessageStore{db: db}
}

var _ messages.Store = (*MessageStore)(nil)

const selectMessages = `SELECT m.id_msg, m.id_topic, m.id_board, m.id_member, m.poster_time,
       m.subject, m.body, m.likes,
       COALESCE(t.num_replies, 0), COALESCE(t.is_sticky, FALSE),
       COALESCE(t.id_first_msg = m.id_msg, FALSE)
FROM messages m
LEFT JOIN topics t ON t.id_topic = m.id_topic`

func (s *MessageStore) Batch(ctx context.Context, fromID uint32, limit int) ([]messages.Message, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		selectMessages+` WHERE m.id_msg >= $1 ORDER BY m.id_msg LIMIT $2`,
		int64(fromID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching messages from %d: %w", fromID, err)
	}
	return scanMessages(rows)
}

func (s *MessageStore) Fetch(ctx context.Context, ids []uint32, filter messages.Filter) ([]messages.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args := buildFetchQuery(ids, filter)
	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching %d messages: %w", len(ids), err)
	}
	return scanMessages(rows)
}

func (s *MessageStore) Stats(ctx context.Context) (messages.Stats, error) {
	var st messages.Stats
	var minID, maxID sql.NullInt64
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(id_msg), MAX(id_msg) FROM messages`,
	).Scan(&st.Count, &minID, &maxID)
	if err != nil {
		return messages.Stats{}, fmt.Errorf("reading message stats: %w", err)
	}
	st.MinID = uint32(minID.Int64)
	st.MaxID = uint32(maxID.Int64)
	return st, nil
}

// Upsert writes m and registers its topic, making m the first message of a
// topic seen for the first time. It reports whether m was new.
func (s *MessageStore) Upsert(ctx context.Context, m messages.Message) (bool, error) {
	var created bool
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`INSERT INTO messages (id_msg, id_topic, id_board, id_member, poster_time, subject, body, likes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id_msg) DO UPDATE SET
			     id_topic = EXCLUDED.id_topic, id_board = EXCLUDED.id_board,
			     id_member = EXCLUDED.id_member, poster_time = EXCLUDED.poster_time,
			     subject = EXCLUDED.subject, body = EXCLUDED.body, likes = EXCLUDED.likes
			 RETURNING (xmax = 0)`,
			int64(m.ID), int64(m.TopicID), int64(m.BoardID), int64(m.MemberID),
			m.PostedAt.Unix(), m.Subject, m.Body, m.Likes,
		).Scan(&created)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO topics (id_topic, id_first_msg) VALUES ($1, $2)
			 ON CONFLICT (id_topic) DO NOTHING`,
			int64(m.TopicID), int64(m.ID),
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("upserting message %d: %w", m.ID, err)
	}
	return created, nil
}

// Delete removes a message and reports whether it existed.
func (s *MessageStore) Delete(ctx context.Context, id uint32) (bool, error) {
	res, err := s.db.DB.ExecContext(ctx, `DELETE FROM messages WHERE id_msg = $1`, int64(id))
	if err != nil {
		return false, fmt.Errorf("deleting message %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting message %d: %w", id, err)
	}
	return n > 0, nil
}

func buildFetchQuery(ids []uint32, f messages.Filter) (string, []any) {
	var b strings.Builder
	b.WriteString(selectMessages)
	args := []any{pq.Array(toInt64s(ids))}
	b.WriteString(" WHERE m.id_msg = ANY($1)")
	add := func(clause string, arg any) {
		args = append(args, arg)
		b.WriteString(" AND ")
		b.WriteString(strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if len(f.BoardIDs) > 0 {
		add("m.id_board = ANY(?)", pq.Array(toInt64s(f.BoardIDs)))
	}
	if len(f.MemberIDs) > 0 {
		add("m.id_member = ANY(?)", pq.Array(toInt64s(f.MemberIDs)))
	}
	if f.TopicID != 0 {
		add("m.id_topic = ?", int64(f.TopicID))
	}
	if !f.From.IsZero() {
		add("m.poster_time >= ?", f.From.Unix())
	}
	if !f.To.IsZero() {
		add("m.poster_time <= ?", f.To.Unix())
	}
	if f.MinID != 0 {
		add("m.id_msg >= ?", int64(f.MinID))
	}
	if f.MaxID != 0 {
		add("m.id_msg <= ?", int64(f.MaxID))
	}
	b.WriteString(" ORDER BY m.id_msg")
	return b.String(), args
}

func scanMessages(rows *sql.Rows) ([]messages.Message, error) {
	defer rows.Close()
	var out []messages.Message
	for rows.Next() {
		var (
			id, topic, board, member, posted int64
			m                                messages.Message
		)
		err := rows.Scan(&id, &topic, &board, &member, &posted,
			&m.Subject, &m.Body, &m.Likes, &m.Replies, &m.Sticky, &m.FirstMessage)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.ID = uint32(id)
		m.TopicID = uint32(topic)
		m.BoardID = uint32(board)
		m.MemberID = uint32(member)
		m.PostedAt = time.Unix(posted, 0).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return out, nil
}
