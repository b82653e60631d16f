package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/forum-search/internal/settings"
)

// Phase is the position of a build in its state machine.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseIndexing   Phase = "indexing"
	PhasePruning    Phase = "pruning"
	PhaseDone       Phase = "done"
)

// Running reports whether a build in this phase still needs steps.
func (p Phase) Running() bool {
	return p == PhaseIndexing || p == PhasePruning
}

// BuildConfig is fixed when a build starts and travels with its state.
type BuildConfig struct {
	WordSize        tokenizer.WordSize `json:"word_size"`
	MaxBytesPerWord int                `json:"max_bytes_per_word"`
	BatchSize       int                `json:"batch_size"`
	StopWordRatio   float64            `json:"stop_word_ratio"`
}

const (
	DefaultBatchSize       = 250
	DefaultMaxBytesPerWord = 20
)

// DefaultBuildConfig uses medium word ids.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		WordSize:        tokenizer.Medium,
		MaxBytesPerWord: DefaultMaxBytesPerWord,
		BatchSize:       DefaultBatchSize,
		StopWordRatio:   0.60,
	}
}

func (c BuildConfig) withDefaults() BuildConfig {
	d := DefaultBuildConfig()
	if c.WordSize.MaxWordID == 0 {
		c.WordSize = d.WordSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxBytesPerWord < 0 {
		c.MaxBytesPerWord = 0
	}
	if c.StopWordRatio <= 0 || c.StopWordRatio > 1 {
		c.StopWordRatio = d.StopWordRatio
	}
	return c
}

// State is the resume state of a build. A nil *State means no build has
// been started.
type State struct {
	Phase  Phase       `json:"phase"`
	Cursor uint32      `json:"cursor"`
	Config BuildConfig `json:"config"`
}

func (s *State) phase() Phase {
	if s == nil {
		return PhaseNotStarted
	}
	return s.Phase
}

func (s *State) same(o *State) bool {
	return s.phase() == o.phase() && (s == nil || s.Cursor == o.Cursor)
}

// LoadState reads the persisted resume state. It returns nil when no build
// is in progress.
func LoadState(ctx context.Context, st settings.Store) (*State, error) {
	phase, ok, err := st.Get(ctx, settings.KeyResumePhase)
	if err != nil {
		return nil, fmt.Errorf("loading resume phase: %w", err)
	}
	if !ok || !Phase(phase).Running() {
		return nil, nil
	}
	state := &State{Phase: Phase(phase)}
	if v, ok, err := st.Get(ctx, settings.KeyResumeCursor); err != nil {
		return nil, fmt.Errorf("loading resume cursor: %w", err)
	} else if ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing resume cursor %q: %w", v, err)
		}
		state.Cursor = uint32(n)
	}
	if v, ok, err := st.Get(ctx, settings.KeyResumeConfig); err != nil {
		return nil, fmt.Errorf("loading resume config: %w", err)
	} else if ok {
		if err := json.Unmarshal([]byte(v), &state.Config); err != nil {
			return nil, fmt.Errorf("parsing resume config: %w", err)
		}
	}
	state.Config = state.Config.withDefaults()
	return state, nil
}

func saveState(ctx context.Context, st settings.Store, s *State) error {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("encoding resume config: %w", err)
	}
	return st.SetMany(ctx, map[string]string{
		settings.KeyResumePhase:  string(s.Phase),
		settings.KeyResumeCursor: strconv.FormatUint(uint64(s.Cursor), 10),
		settings.KeyResumeConfig: string(cfg),
	})
}

func clearState(ctx context.Context, st settings.Store) error {
	return st.Delete(ctx, settings.KeyResumePhase, settings.KeyResumeCursor, settings.KeyResumeConfig)
}

// LoadIndexConfig returns the configuration of the last completed build.
func LoadIndexConfig(ctx context.Context, st settings.Store) (BuildConfig, bool, error) {
	v, ok, err := st.Get(ctx, settings.KeyIndexConfig)
	if err != nil || !ok {
		return BuildConfig{}, false, err
	}
	var cfg BuildConfig
	if err := json.Unmarshal([]byte(v), &cfg); err != nil {
		return BuildConfig{}, false, fmt.Errorf("parsing index settings: %w", err)
	}
	return cfg.withDefaults(), true, nil
}

// IsActive reports whether a completed index may serve searches.
func IsActive(ctx context.Context, st settings.Store) (bool, error) {
	return settings.Bool(ctx, st, settings.KeyActiveIndex)
}
