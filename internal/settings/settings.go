// Package settings is the key/value store for build state and search
// tunables: resume cursor, stop-word list and the active-index flag.
package settings

import (
	"context"
	"strconv"
	"strings"
)

const (
	KeyResumeCursor = "resume_cursor"
	KeyResumePhase  = "resume_phase"
	KeyResumeConfig = "resume_config"
	KeyStopWords    = "stop_word_list"
	KeyActiveIndex  = "active_index_flag"
	KeyIndexConfig  = "index_settings"
	// KeySearchBackend overrides the configured backend name at runtime.
	KeySearchBackend = "search_backend"
)

// Store persists string values by key. Get reports ok=false for a missing
// key rather than an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// SetMany writes all values atomically.
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// ParseIDList decodes a comma-joined id list, skipping malformed items.
func ParseIDList(v string) []uint32 {
	var ids []uint32
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err == nil {
			ids = append(ids, uint32(n))
		}
	}
	return ids
}

// FormatIDList is the inverse of ParseIDList.
func FormatIDList(ids []uint32) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

// Bool reads a "1"/"0" flag; missing keys are false.
func Bool(ctx context.Context, s Store, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "1", nil
}

func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
