// Package handler implements the gateway's own endpoints: reverse proxies
// to the searcher, ingestion and analytics services and API key admin.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/apikey"
)

// Config holds the upstream service URLs.
type Config struct {
	SearcherURL  string
	IngestionURL string
	AnalyticsURL string
}

// KeyStore manages API keys.
type KeyStore interface {
	CreateKey(ctx context.Context, name string, scope apikey.Scope, rateLimit int, expiresAt *time.Time) (string, *apikey.KeyInfo, error)
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
	RevokeKey(ctx context.Context, id int64) error
}

type Handler struct {
	searcher  *httputil.ReverseProxy
	ingestion *httputil.ReverseProxy
	analytics *httputil.ReverseProxy
	keys      KeyStore
	logger    *slog.Logger
}

func New(cfg Config, keys KeyStore) (*Handler, error) {
	h := &Handler{
		keys:   keys,
		logger: slog.Default().With("component", "gateway-handler"),
	}
	var err error
	if h.searcher, err = h.newProxy("searcher", cfg.SearcherURL); err != nil {
		return nil, err
	}
	if h.ingestion, err = h.newProxy("ingestion", cfg.IngestionURL); err != nil {
		return nil, err
	}
	if h.analytics, err = h.newProxy("analytics", cfg.AnalyticsURL); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Handler) newProxy(name, target string) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s url %q", name, target)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		h.logger.Warn("upstream request failed", "upstream", name, "path", r.URL.Path, "error", err)
		writeError(w, h.logger, http.StatusBadGateway, name+" unavailable")
	}
	return proxy, nil
}

func (h *Handler) Searcher() http.Handler  { return h.searcher }
func (h *Handler) Ingestion() http.Handler { return h.ingestion }
func (h *Handler) Analytics() http.Handler { return h.analytics }

type createKeyRequest struct {
	Name      string     `json:"name"`
	Scope     string     `json:"scope"`
	RateLimit int        `json:"rate_limit"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type createKeyResponse struct {
	Key string `json:"key"`
	*apikey.KeyInfo
}

// CreateKey handles POST /api/v1/admin/keys. The raw key is only ever
// returned here.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, h.logger, http.StatusBadRequest, "name is required")
		return
	}
	if req.Scope == "" {
		req.Scope = string(apikey.ScopeSearch)
	}
	scope, err := apikey.ParseScope(req.Scope)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, err.Error())
		return
	}
	if req.RateLimit < 0 {
		writeError(w, h.logger, http.StatusBadRequest, "rate_limit must not be negative")
		return
	}

	raw, info, err := h.keys.CreateKey(r.Context(), req.Name, scope, req.RateLimit, req.ExpiresAt)
	if err != nil {
		h.logger.Error("failed to create api key", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to create api key")
		return
	}
	writeJSON(w, h.logger, http.StatusCreated, createKeyResponse{Key: raw, KeyInfo: info})
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list api keys", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to list api keys")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"keys": keys, "total": len(keys)})
}

// RevokeKey handles DELETE /api/v1/admin/keys/{id}.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := h.keys.RevokeKey(r.Context(), id); err != nil {
		if errors.Is(err, apikey.ErrInvalidKey) {
			writeError(w, h.logger, http.StatusNotFound, "api key not found")
			return
		}
		h.logger.Error("failed to revoke api key", "id", id, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "failed to revoke api key")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"id": id, "status": "revoked"})
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
