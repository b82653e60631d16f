// Package router assembles the gateway's routes and middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/apikey"
	gwhandler "github.com/Adithya-Monish-Kumar-K/forum-search/internal/gateway/handler"
	gwmw "github.com/Adithya-Monish-Kumar-K/forum-search/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/middleware"
)

type Options struct {
	CORSOrigins      []string
	DefaultRateLimit int
	Timeout          time.Duration
}

// New builds the gateway handler.
//
//	GET    /api/v1/search, /api/v1/backends        search scope   → searcher
//	POST   /api/v1/messages, PUT|DELETE .../{id}   ingest scope   → ingestion
//	*      /api/v1/cache/*, /api/v1/index/*,
//	       /api/v1/sphinx/config                   admin scope    → searcher
//	GET    /api/v1/analytics                       admin scope    → analytics
//	POST|GET /api/v1/admin/keys, DELETE .../{id}   admin scope    → key store
//	GET    /health/live, /health/ready             no key
//
// Chain, outermost first: RequestID → Metrics → Timeout → CORS → Auth →
// RateLimit → scope check → route.
func New(h *gwhandler.Handler, auth gwmw.Authenticator, limiter gwmw.Limiter, checker *health.Checker, m *metrics.Metrics, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	search := gwmw.RequireScope(apikey.ScopeSearch, h.Searcher())
	mux.Handle("GET /api/v1/search", search)
	mux.Handle("GET /api/v1/backends", search)

	ingest := gwmw.RequireScope(apikey.ScopeIngest, h.Ingestion())
	mux.Handle("POST /api/v1/messages", ingest)
	mux.Handle("PUT /api/v1/messages/{id}", ingest)
	mux.Handle("DELETE /api/v1/messages/{id}", ingest)

	admin := gwmw.RequireScope(apikey.ScopeAdmin, h.Searcher())
	mux.Handle("GET /api/v1/cache/stats", admin)
	mux.Handle("POST /api/v1/cache/invalidate", admin)
	mux.Handle("GET /api/v1/index/status", admin)
	mux.Handle("POST /api/v1/index/step", admin)
	mux.Handle("POST /api/v1/index/rebuild", admin)
	mux.Handle("GET /api/v1/sphinx/config", admin)
	mux.Handle("GET /api/v1/analytics", gwmw.RequireScope(apikey.ScopeAdmin, h.Analytics()))

	mux.Handle("POST /api/v1/admin/keys", gwmw.RequireScope(apikey.ScopeAdmin, http.HandlerFunc(h.CreateKey)))
	mux.Handle("GET /api/v1/admin/keys", gwmw.RequireScope(apikey.ScopeAdmin, http.HandlerFunc(h.ListKeys)))
	mux.Handle("DELETE /api/v1/admin/keys/{id}", gwmw.RequireScope(apikey.ScopeAdmin, http.HandlerFunc(h.RevokeKey)))

	var chain http.Handler = mux
	chain = gwmw.RateLimit(limiter, opts.DefaultRateLimit)(chain)
	chain = gwmw.Auth(auth)(chain)
	chain = gwmw.CORS(gwmw.DefaultCORSConfig(opts.CORSOrigins))(chain)
	if opts.Timeout > 0 {
		chain = pkgmw.Timeout(opts.Timeout)(chain)
	}
	if m != nil {
		chain = pkgmw.Metrics(m)(chain)
	}
	return pkgmw.RequestID(chain)
}
