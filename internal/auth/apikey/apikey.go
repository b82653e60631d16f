// Package apikey issues and validates the API keys that guard the search,
// message intake and admin routes. Only the SHA-256 of a key is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

// Scope is what a key may do. Admin covers every scope.
type Scope string

const (
	ScopeSearch Scope = "search"
	ScopeIngest Scope = "ingest"
	ScopeAdmin  Scope = "admin"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSearch, ScopeIngest, ScopeAdmin:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Allows reports whether a key with scope s may use routes requiring want.
func (s Scope) Allows(want Scope) bool {
	return s == ScopeAdmin || s == want
}

const Schema = `
CREATE TABLE IF NOT EXISTS search_api_keys (
    id          BIGSERIAL PRIMARY KEY,
    key_hash    TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    scope       TEXT NOT NULL,
    rate_limit  INT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    expires_at  TIMESTAMPTZ
);
`

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Scope     Scope      `json:"scope"`
	RateLimit int        `json:"rate_limit"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Validator validates and manages keys in the search_api_keys table.
type Validator struct {
	db     *postgres.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		now:    time.Now,
		logger: slog.Default().With("component", "apikey-validator"),
	}
}

// Migrate creates the key table.
func (v *Validator) Migrate(ctx context.Context) error {
	if err := v.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrating api key schema: %w", err)
	}
	return nil
}

// Validate returns the metadata of an active, unexpired key.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	row := v.db.DB.QueryRowContext(ctx,
		`SELECT id, name, scope, rate_limit, created_at, expires_at
		 FROM search_api_keys
		 WHERE key_hash = $1 AND is_active`,
		HashKey(rawKey),
	)
	info, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if info.ExpiresAt != nil && !info.ExpiresAt.After(v.now()) {
		return nil, ErrExpiredKey
	}
	return info, nil
}

// CreateKey stores a new key and returns it. The raw key is not
// recoverable afterwards.
func (v *Validator) CreateKey(ctx context.Context, name string, scope Scope, rateLimit int, expiresAt *time.Time) (string, *KeyInfo, error) {
	rawKey, err := generateRawKey()
	if err != nil {
		return "", nil, err
	}
	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	row := v.db.DB.QueryRowContext(ctx,
		`INSERT INTO search_api_keys (key_hash, name, scope, rate_limit, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, name, scope, rate_limit, created_at, expires_at`,
		HashKey(rawKey), name, string(scope), rateLimit, expiry,
	)
	info, err := scanKey(row)
	if err != nil {
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	v.logger.Info("api key created", "id", info.ID, "name", name, "scope", scope, "rate_limit", rateLimit)
	return rawKey, info, nil
}

// RevokeKey deactivates a key by id.
func (v *Validator) RevokeKey(ctx context.Context, id int64) error {
	result, err := v.db.DB.ExecContext(ctx,
		`UPDATE search_api_keys SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	if rows == 0 {
		return ErrInvalidKey
	}
	v.logger.Info("api key revoked", "id", id)
	return nil
}

// ListKeys returns the active keys, newest first.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT id, name, scope, rate_limit, created_at, expires_at
		 FROM search_api_keys WHERE is_active ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []KeyInfo{}
	for rows.Next() {
		info, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		keys = append(keys, *info)
	}
	return keys, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (*KeyInfo, error) {
	var (
		info      KeyInfo
		scope     string
		expiresAt sql.NullTime
	)
	if err := row.Scan(&info.ID, &info.Name, &scope, &info.RateLimit, &info.CreatedAt, &expiresAt); err != nil {
		return nil, err
	}
	info.Scope = Scope(scope)
	if expiresAt.Valid {
		info.ExpiresAt = &expiresAt.Time
	}
	return &info, nil
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
