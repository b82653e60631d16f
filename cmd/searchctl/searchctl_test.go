package main

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/forum-search/pkg/errors"
)

type scriptedBuilder struct {
	steps []indexer.Progress
	fail  int
	calls int
}

func (s *scriptedBuilder) Status(context.Context) (*indexer.State, indexer.Progress, error) {
	return nil, indexer.Progress{}, nil
}

func (s *scriptedBuilder) Start(_ context.Context, cfg indexer.BuildConfig, _ bool) (*indexer.State, error) {
	return &indexer.State{Phase: indexer.PhaseIndexing, Config: cfg}, nil
}

func (s *scriptedBuilder) Step(_ context.Context, state *indexer.State) (*indexer.State, indexer.Progress, error) {
	s.calls++
	if s.fail > 0 && s.calls == s.fail {
		return state, indexer.Progress{Percent: s.steps[s.calls-2].Percent}, fmt.Errorf("insert: %w", apperrors.ErrTransientIndexing)
	}
	return state, s.steps[s.calls-1], nil
}

func TestRunBuildStepsUntilDone(t *testing.T) {
	b := &scriptedBuilder{steps: []indexer.Progress{
		{Phase: indexer.PhaseIndexing, Percent: 40},
		{Phase: indexer.PhasePruning, Percent: 80},
		{Phase: indexer.PhaseDone, Percent: 100, Done: true},
	}}
	var seen []int
	err := runBuild(context.Background(), b, &indexer.State{Phase: indexer.PhaseIndexing}, func(p indexer.Progress) {
		seen = append(seen, p.Percent)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{40, 80, 100}, seen)
}

func TestRunBuildStopsOnFailure(t *testing.T) {
	b := &scriptedBuilder{
		steps: []indexer.Progress{{Phase: indexer.PhaseIndexing, Percent: 40}, {}},
		fail:  2,
	}
	err := runBuild(context.Background(), b, &indexer.State{Phase: indexer.PhaseIndexing}, func(indexer.Progress) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransientIndexing)
	assert.Contains(t, err.Error(), "40%")
	assert.Equal(t, 2, b.calls)
}

func TestRunBuildHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &scriptedBuilder{}
	err := runBuild(ctx, b, nil, func(indexer.Progress) {})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, b.calls)
}

func TestParseCommandReportsRejection(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", "", "parse", "--", "a", "-b"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "rejected: ")
}

func TestSphinxConfigCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", "", "sphinx-config"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "index forum_index")
	assert.Contains(t, out.String(), "listen = localhost:9306:mysql41")
}

func TestKeyRows(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(720 * time.Hour)
	rows := keyRows([]apikey.KeyInfo{
		{ID: 4, Name: "forum", Scope: apikey.ScopeSearch, RateLimit: 50, CreatedAt: created, ExpiresAt: &expires},
		{ID: 5, Name: "ops", Scope: apikey.ScopeAdmin, CreatedAt: created},
	})
	assert.Equal(t, [][]string{
		{"4", "forum", "search", "50", "2026-03-01T12:00:00Z", "2026-03-31T12:00:00Z"},
		{"5", "ops", "admin", "default", "2026-03-01T12:00:00Z", "never"},
	}, rows)
}

func TestKeysCreateRejectsUnknownScope(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", "", "keys", "create", "--scope", "root", "ops"})
	assert.ErrorContains(t, root.Execute(), `unknown scope "root"`)
}
