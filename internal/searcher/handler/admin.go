package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/sphinxconf"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

type Builder interface {
	Status(ctx context.Context) (*indexer.State, indexer.Progress, error)
	Step(ctx context.Context, state *indexer.State) (*indexer.State, indexer.Progress, error)
	Start(ctx context.Context, cfg indexer.BuildConfig, force bool) (*indexer.State, error)
}

// Admin drives index builds one step per request and serves the daemon
// configuration.
type Admin struct {
	builder  Builder
	defaults indexer.BuildConfig
	sphinx   sphinxconf.Params
	backends backend.Registry
	logger   *slog.Logger
}

func NewAdmin(b Builder, defaults indexer.BuildConfig, sphinx sphinxconf.Params, backends backend.Registry) *Admin {
	return &Admin{
		builder:  b,
		defaults: defaults,
		sphinx:   sphinx,
		backends: backends,
		logger:   slog.Default().With("component", "admin-handler"),
	}
}

type stepResponse struct {
	indexer.Progress
	Error     string `json:"error,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Step advances the build by one time slice, starting one when none is
// running and no index is active. A completed index is left alone.
func (a *Admin) Step(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, progress, err := a.builder.Status(ctx)
	if err != nil {
		writeAppError(w, a.logger, err)
		return
	}
	if progress.Done {
		writeJSON(w, a.logger, http.StatusOK, stepResponse{Progress: progress})
		return
	}
	_, progress, err = a.builder.Step(ctx, state)
	if err != nil {
		// Report the last persisted position so the caller can retry.
		_, last, statusErr := a.builder.Status(ctx)
		if statusErr != nil {
			a.logger.Warn("reading build status after failure", "error", statusErr)
		}
		writeJSON(w, a.logger, apperrors.HTTPStatusCode(err), stepResponse{
			Progress:  last,
			Error:     err.Error(),
			Retryable: apperrors.Retryable(err),
		})
		return
	}
	writeJSON(w, a.logger, http.StatusOK, stepResponse{Progress: progress})
}

// Rebuild discards the current index and starts a new build. A running
// build is only replaced with force=true.
func (a *Admin) Rebuild(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cfg := a.defaults
	if v := q.Get("word_size"); v != "" {
		size, err := tokenizer.ParseWordSize(v)
		if err != nil {
			writeError(w, a.logger, http.StatusBadRequest, err.Error())
			return
		}
		cfg.WordSize = size
	}
	if v := q.Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, a.logger, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
		cfg.BatchSize = n
	}
	force := flag(q.Get("force"))

	state, err := a.builder.Start(r.Context(), cfg, force)
	if err != nil {
		writeAppError(w, a.logger, err)
		return
	}
	writeJSON(w, a.logger, http.StatusAccepted, state)
}

type statusResponse struct {
	State    *indexer.State   `json:"state"`
	Progress indexer.Progress `json:"progress"`
}

func (a *Admin) Status(w http.ResponseWriter, r *http.Request) {
	state, progress, err := a.builder.Status(r.Context())
	if err != nil {
		writeAppError(w, a.logger, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, statusResponse{State: state, Progress: progress})
}

// SphinxConfig serves the daemon configuration as a download.
func (a *Admin) SphinxConfig(w http.ResponseWriter, r *http.Request) {
	data, err := sphinxconf.Emit(a.sphinx)
	if err != nil {
		a.logger.Error("rendering sphinx config failed", "error", err)
		writeError(w, a.logger, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="sphinx.conf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.logger.Error("failed to write sphinx config", "error", err)
	}
}

type backendInfo struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Ready        bool     `json:"ready"`
	Reason       string   `json:"reason,omitempty"`
}

// Backends lists the registered drivers with their capabilities and
// readiness.
func (a *Admin) Backends(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(a.backends))
	for name := range a.backends {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]backendInfo, 0, len(names))
	for _, name := range names {
		b := a.backends[name]
		info := backendInfo{Name: name, Capabilities: b.Capabilities().Names()}
		if err := b.Ready(r.Context()); err != nil {
			var appErr *apperrors.AppError
			info.Reason = err.Error()
			if errors.As(err, &appErr) {
				info.Reason = appErr.Message
			}
		} else {
			info.Ready = true
		}
		out = append(out, info)
	}
	writeJSON(w, a.logger, http.StatusOK, out)
}
