// Package handler exposes the search service and the index administration
// endpoints over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/searcher/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
)

type Searcher interface {
	Search(ctx context.Context, in searcher.Input) (*searcher.Response, error)
}

type Cache interface {
	Stats() cache.Stats
	Invalidate(ctx context.Context) (int64, error)
}

type Handler struct {
	searcher Searcher
	cache    Cache
	logger   *slog.Logger
}

// New builds the search handler. queryCache may be nil.
func New(s Searcher, queryCache Cache) *Handler {
	return &Handler{
		searcher: s,
		cache:    queryCache,
		logger:   slog.Default().With("component", "search-handler"),
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	in, err := parseInput(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := h.searcher.Search(r.Context(), in)
	if err != nil {
		logger.FromContext(r.Context()).Error("search failed", "query", in.Query, "error", err)
		writeAppError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// parseInput reads the search parameters. Id lists are comma separated and
// dates are RFC 3339 or unix seconds.
func parseInput(r *http.Request) (searcher.Input, error) {
	q := r.URL.Query()
	in := searcher.Input{Query: q.Get("q")}

	var err error
	if in.Filter.BoardIDs, err = idList(q.Get("boards")); err != nil {
		return in, fmt.Errorf("boards: %w", err)
	}
	if in.Filter.MemberIDs, err = idList(q.Get("members")); err != nil {
		return in, fmt.Errorf("members: %w", err)
	}
	if v := q.Get("topic"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return in, fmt.Errorf("topic must be a message topic id")
		}
		in.Filter.TopicID = uint32(id)
	}
	if in.Filter.From, err = parseTime(q.Get("from")); err != nil {
		return in, fmt.Errorf("from: %w", err)
	}
	if in.Filter.To, err = parseTime(q.Get("to")); err != nil {
		return in, fmt.Errorf("to: %w", err)
	}
	if in.Sort, err = backend.ParseSort(q.Get("sort")); err != nil {
		return in, err
	}
	if in.Offset, err = intParam(q.Get("offset")); err != nil {
		return in, fmt.Errorf("offset must be a non-negative integer")
	}
	if in.Limit, err = intParam(q.Get("limit")); err != nil {
		return in, fmt.Errorf("limit must be a non-negative integer")
	}
	switch q.Get("match") {
	case "", "all":
	case "any":
		in.MatchAny = true
	default:
		return in, fmt.Errorf("match must be all or any")
	}
	in.SubjectOnly = flag(q.Get("subject_only"))
	in.GroupByTopic = flag(q.Get("group"))
	return in, nil
}

func idList(v string) ([]uint32, error) {
	if v == "" {
		return nil, nil
	}
	var ids []uint32
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, uint32(n))
	}
	return ids, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	return t, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func flag(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, message string) {
	writeJSON(w, log, status, map[string]string{"error": message})
}

// writeAppError maps err onto its status. Internal errors are not echoed.
func writeAppError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, log, status, message)
}
