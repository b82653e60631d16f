package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

// SettingsStore keeps settings in the search_settings table.
type SettingsStore struct {
	db *postgres.Client
}

func NewSettingsStore(db *postgres.Client) *SettingsStore {
	return &SettingsStore{db: db}
}

var _ settings.Store = (*SettingsStore)(nil)

const upsertSetting = `INSERT INTO search_settings (key, value) VALUES ($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

func (s *SettingsStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT value FROM search_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.DB.ExecContext(ctx, upsertSetting, key, value); err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

func (s *SettingsStore) SetMany(ctx context.Context, values map[string]string) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		for k, v := range values {
			if _, err := tx.ExecContext(ctx, upsertSetting, k, v); err != nil {
				return fmt.Errorf("writing setting %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *SettingsStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.db.DB.ExecContext(ctx,
		`DELETE FROM search_settings WHERE key = ANY($1)`, pq.Array(keys)); err != nil {
		return fmt.Errorf("deleting settings: %w", err)
	}
	return nil
}
